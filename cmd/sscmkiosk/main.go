// SSCM Kiosk - command line client for the SSCM relay.
//
// It runs the kiosk side of the relay protocol from a terminal: a shoe
// classification, a live watch of a main board and its camera, or a
// registration of the board with a fresh pairing code.
//
// Usage:
//
//	sscmkiosk classify [-config path] [-device SSCM-XXXXXX]
//	sscmkiosk watch    [-config path] [-device SSCM-XXXXXX]
//	sscmkiosk register [-config path] [-device SSCM-XXXXXX]
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/sscm-labs/sscm-relay/internal/classify"
	"github.com/sscm-labs/sscm-relay/internal/deviceid"
	"github.com/sscm-labs/sscm-relay/internal/infrastructure/config"
	"github.com/sscm-labs/sscm-relay/internal/infrastructure/logging"
	"github.com/sscm-labs/sscm-relay/internal/kiosk"
	"github.com/sscm-labs/sscm-relay/internal/pairing"
	"github.com/sscm-labs/sscm-relay/internal/protocol"
)

var version = "dev"

const serviceName = "sscm-kiosk"

// errClassificationFailed makes classify exit non-zero without a second
// error line; the outcome has already been printed.
var errClassificationFailed = errors.New("classification failed")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Args[1:], os.Stdout)
	switch {
	case errors.Is(err, errClassificationFailed):
		os.Exit(1)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	cfg    *config.Config
	device deviceid.ID
	log    *logging.Logger
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s classify|watch|register [-config path] [-device id]", serviceName)
	}
	cmd, args := args[0], args[1:]

	opts, err := parseOptions(cmd, args)
	if err != nil {
		return err
	}

	switch cmd {
	case "classify":
		return runClassify(ctx, opts, out)
	case "watch":
		return runWatch(ctx, opts, out)
	case "register":
		return runRegister(ctx, opts, out)
	default:
		return fmt.Errorf("unknown command %q (want classify, watch or register)", cmd)
	}
}

func parseOptions(cmd string, args []string) (*options, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("SSCM_CONFIG"), "path to config.yaml")
	device := fs.String("device", "", "main board id (overrides kiosk.device_id)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.LoadKiosk(*configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if *device != "" {
		cfg.Kiosk.DeviceID = *device
	}
	id, err := deviceid.Parse(cfg.Kiosk.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("kiosk device id: %w", err)
	}
	if !id.IsMain() {
		return nil, fmt.Errorf("kiosk device id %s is not a main board", id)
	}

	return &options{
		cfg:    cfg,
		device: id,
		log:    logging.New(cfg.Logging, serviceName, version),
	}, nil
}

func newManager(ctx context.Context, opts *options) (*kiosk.Manager, error) {
	k := opts.cfg.Kiosk
	mgr, err := kiosk.NewManager(kiosk.Options{
		URL:         k.RelayURL,
		DeviceID:    opts.device,
		Token:       k.Token,
		BaseDelay:   k.GetReconnectBaseDelay(),
		MaxAttempts: k.MaxReconnectAttempts,
		Logger:      opts.log.With("component", "kiosk"),
	})
	if err != nil {
		return nil, err
	}
	if err := mgr.Connect(ctx); err != nil && !errors.Is(err, kiosk.ErrDial) {
		return nil, err
	} else if err != nil {
		opts.log.Warn("initial connection failed, retrying", "error", err)
	}
	return mgr, nil
}

// runClassify runs one classification and prints every transition.
func runClassify(ctx context.Context, opts *options, out io.Writer) error {
	mgr, err := newManager(ctx, opts)
	if err != nil {
		return err
	}
	defer mgr.Close() //nolint:errcheck // process exit follows

	done := make(chan classify.Snapshot, 1)
	wf, err := classify.New(classify.Deps{
		Messenger: mgr,
		MainID:    opts.device,
		Timeout:   opts.cfg.Kiosk.GetClassificationTimeout(),
		Logger:    opts.log.With("component", "classify"),
		Observer: func(s classify.Snapshot) {
			printSnapshot(out, s)
			if s.State == classify.StateSuccess || s.State == classify.StateError {
				select {
				case done <- s:
				default:
				}
			}
		},
	})
	if err != nil {
		return err
	}
	defer wf.Close()

	if err := wf.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case s := <-done:
		if s.State == classify.StateError {
			return errClassificationFailed
		}
		return nil
	}
}

func printSnapshot(out io.Writer, s classify.Snapshot) {
	switch {
	case s.Result != nil:
		fmt.Fprintf(out, "%s: %s (%.1f%%)\n", s.State, s.Result.Label, s.Result.Confidence*100)
	case s.Error != "":
		fmt.Fprintf(out, "%s: %s\n", s.State, s.Error)
	default:
		fmt.Fprintln(out, s.State)
	}
}

// runWatch prints every envelope for the board and its camera until
// interrupted.
func runWatch(ctx context.Context, opts *options, out io.Writer) error {
	mgr, err := newManager(ctx, opts)
	if err != nil {
		return err
	}
	defer mgr.Close() //nolint:errcheck // process exit follows

	mgr.OnStateChange(func(s kiosk.State) {
		fmt.Fprintf(out, "# %s\n", s)
	})
	mgr.OnMessage(func(env protocol.Envelope) {
		fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.TimeOnly), env.Raw())
	})
	mgr.Subscribe(opts.device.Camera())

	<-ctx.Done()
	return nil
}

// runRegister registers the board over REST with a fresh pairing code.
func runRegister(ctx context.Context, opts *options, out io.Writer) error {
	code, err := pairing.GenerateCode()
	if err != nil {
		return fmt.Errorf("generating pairing code: %w", err)
	}

	body, err := json.Marshal(map[string]string{
		"deviceId":    opts.device.String(),
		"pairingCode": code,
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	url := strings.TrimRight(opts.cfg.Kiosk.APIURL, "/") + "/api/device/register"
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("registering %s: %w", opts.device, err)
	}
	defer resp.Body.Close()

	var result struct {
		Success bool   `json:"success"`
		Paired  bool   `json:"paired"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("register failed: %s (status %d)", result.Message, resp.StatusCode)
	}

	if result.Paired {
		fmt.Fprintf(out, "%s is already paired\n", opts.device)
		return nil
	}
	fmt.Fprintf(out, "%s registered, pairing code %s\n", opts.device, code)
	return nil
}
