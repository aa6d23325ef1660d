package approval

// State is the approval machine's current stage.
type State uint8

const (
	StateIdle State = iota
	StateClosing
	StateFetchingAccount
	StateSettingGasPrice
	StateSimulating
	StateWaitingApproval
	StateUnlocking
	StateSendingTx
	StateTxSuccess
	StateTxFailed
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClosing:
		return "closing"
	case StateFetchingAccount:
		return "fetchingAccount"
	case StateSettingGasPrice:
		return "settingGasPrice"
	case StateSimulating:
		return "simulatingTransaction"
	case StateWaitingApproval:
		return "waitingApproval"
	case StateUnlocking:
		return "unlocking"
	case StateSendingTx:
		return "sendingTx"
	case StateTxSuccess:
		return "txSuccess"
	case StateTxFailed:
		return "txFailed"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are accepted from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
