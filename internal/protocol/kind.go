package protocol

// Kind is the envelope tag. The set is closed: ParseKind maps every tag
// outside it to KindUnknown.
type Kind string

// Device and client originated kinds.
const (
	KindSubscribe   Kind = "subscribe"
	KindUnsubscribe Kind = "unsubscribe"

	KindStatusUpdate Kind = "status-update"

	KindCoinInserted   Kind = "coin-inserted"
	KindBillInserted   Kind = "bill-inserted"
	KindEnablePayment  Kind = "enable-payment"
	KindDisablePayment Kind = "disable-payment"

	KindStartService    Kind = "start-service"
	KindServiceStatus   Kind = "service-status"
	KindServiceComplete Kind = "service-complete"

	KindEnableClassification  Kind = "enable-classification"
	KindDisableClassification Kind = "disable-classification"

	KindSensorData    Kind = "sensor-data"
	KindDistanceData  Kind = "distance-data"
	KindCamSyncStatus Kind = "cam-sync-status"
	KindCamPaired     Kind = "cam-paired"

	KindCamStatus             Kind = "cam-status"
	KindClassificationResult  Kind = "classification-result"
	KindClassificationStarted Kind = "classification-started"
	KindClassificationError   Kind = "classification-error"
	KindClassificationBusy    Kind = "classification-busy"

	KindStartClassification   Kind = "start-classification"
	KindRequestClassification Kind = "request-classification"

	// KindRestart is sent by admins to reboot a main board.
	KindRestart Kind = "restart"
)

// Relay originated kinds.
const (
	KindSubscribed   Kind = "subscribed"
	KindUnsubscribed Kind = "unsubscribed"
	KindStatusAck    Kind = "status-ack"
	KindDeviceOnline Kind = "device-online"
	KindDeviceUpdate Kind = "device-update"
)

// KindUnknown stands for any tag outside the closed set.
const KindUnknown Kind = "unknown"

var knownKinds = map[Kind]struct{}{
	KindSubscribe: {}, KindUnsubscribe: {}, KindStatusUpdate: {},
	KindCoinInserted: {}, KindBillInserted: {}, KindEnablePayment: {}, KindDisablePayment: {},
	KindStartService: {}, KindServiceStatus: {}, KindServiceComplete: {},
	KindEnableClassification: {}, KindDisableClassification: {},
	KindSensorData: {}, KindDistanceData: {}, KindCamSyncStatus: {}, KindCamPaired: {},
	KindCamStatus: {}, KindClassificationResult: {}, KindClassificationStarted: {},
	KindClassificationError: {}, KindClassificationBusy: {},
	KindStartClassification: {}, KindRequestClassification: {}, KindRestart: {},
	KindSubscribed: {}, KindUnsubscribed: {}, KindStatusAck: {}, KindDeviceOnline: {}, KindDeviceUpdate: {},
}

// ParseKind returns the Kind for tag, or KindUnknown.
func ParseKind(tag string) Kind {
	k := Kind(tag)
	if _, ok := knownKinds[k]; ok {
		return k
	}
	return KindUnknown
}

// Kinds returns every known kind. The order is unspecified.
func Kinds() []Kind {
	out := make([]Kind, 0, len(knownKinds))
	for k := range knownKinds {
		out = append(out, k)
	}
	return out
}

func (k Kind) String() string { return string(k) }
