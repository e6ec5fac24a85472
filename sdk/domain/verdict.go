package domain

// GateVerdict es el resultado de evaluar un gate sobre un Intent.
//
// El primer Reject en orden de pipeline termina la evaluación: ningún gate
// posterior corre y no se produce efecto persistente de ningún tipo.
type GateVerdict struct {
	Gate     string                 `json:"gate"`
	Accepted bool                   `json:"accepted"`
	Reason   ErrorCode              `json:"reason,omitempty"`
	Message  string                 `json:"message,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// Accept construye un veredicto de aceptación.
func Accept(gate string) GateVerdict {
	return GateVerdict{Gate: gate, Accepted: true}
}

// Reject construye un veredicto de rechazo con razón estructurada.
func Reject(gate string, reason ErrorCode, message string) GateVerdict {
	return GateVerdict{Gate: gate, Accepted: false, Reason: reason, Message: message}
}

// RejectFromError construye un rechazo desde un TradingError, preservando
// código, mensaje y detalles.
func RejectFromError(gate string, err error) GateVerdict {
	v := GateVerdict{Gate: gate, Accepted: false, Reason: CodeOf(err)}
	if err != nil {
		v.Message = err.Error()
		if te, ok := err.(*TradingError); ok {
			v.Message = te.Message
			if len(te.Details) > 0 {
				v.Details = te.Details
			}
		}
	}
	return v
}
