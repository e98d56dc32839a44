package session

// Session protocol methods. Only the update and ping methods are handled
// by this package; the rest belong to the settlement and request flows.
const (
	MethodPairingPing          = "wc_pairingPing"
	MethodSessionPropose       = "wc_sessionPropose"
	MethodSessionSettle        = "wc_sessionSettle"
	MethodSessionUpdateAccount = "wc_sessionUpdateAccounts"
	MethodSessionUpdateMethods = "wc_sessionUpdateMethods"
	MethodSessionUpdateEvents  = "wc_sessionUpdateEvents"
	MethodSessionUpdateExpiry  = "wc_sessionUpdateExpiry"
	MethodSessionDelete        = "wc_sessionDelete"
	MethodSessionRequest       = "wc_sessionRequest"
	MethodSessionPing          = "wc_sessionPing"
	MethodSessionEvent         = "wc_sessionEvent"
)

type UpdateMethodsParams struct {
	Methods Set `json:"methods"`
}

type UpdateEventsParams struct {
	Events Set `json:"events"`
}

type PingParams struct{}
