package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/gowebpki/jcs"
)

// canonicalIntent es la proyección de un Intent sobre sus campos relevantes
// para la decisión. Excluye fuentes de no-determinismo: intent_id (random),
// created_at_ms (wall clock) y metadata libre.
//
// El orden de campos no importa: la forma canónica RFC 8785 ordena claves y
// normaliza la representación numérica antes del hash.
type canonicalIntent struct {
	AccountID    string          `json:"account_id"`
	Action       IntentAction    `json:"action"`
	Instrument   string          `json:"instrument"`
	LimitPrice   float64         `json:"limit_price"`
	LinkedType   LinkedOrderType `json:"linked_type"`
	OrderType    OrderType       `json:"order_type"`
	PrevIntentID string          `json:"prev_intent_id"`
	Quantity     float64         `json:"quantity"`
	ReduceOnly   bool            `json:"reduce_only"`
	RunID        string          `json:"run_id"`
	Side         Side            `json:"side"`
	TriggerPrice float64         `json:"trigger_price"`
}

// CanonicalBytes retorna la codificación canónica determinista del Intent.
//
// Contrato: dos Intents con campos de decisión idénticos producen bytes
// idénticos sin importar orden de invocación, máquina o momento del día.
func CanonicalBytes(i *Intent) ([]byte, error) {
	if i == nil {
		return nil, NewError(ErrInvalidInput, "intent is nil")
	}

	raw, err := json.Marshal(canonicalIntent{
		AccountID:    i.AccountID,
		Action:       i.Action,
		Instrument:   i.Instrument,
		LimitPrice:   i.LimitPrice,
		LinkedType:   i.LinkedType,
		OrderType:    i.OrderType,
		PrevIntentID: i.PrevIntentID,
		Quantity:     i.Quantity,
		ReduceOnly:   i.ReduceOnly,
		RunID:        i.RunID,
		Side:         i.Side,
		TriggerPrice: i.TriggerPrice,
	})
	if err != nil {
		return nil, WrapError(ErrInvalidInput, "marshal canonical intent", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, WrapError(ErrInvalidInput, "canonicalize intent", err)
	}
	return canonical, nil
}

// HashBytes calcula el digest sha256 en hex de una codificación canónica.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// IntentDigest es el atajo CanonicalBytes + HashBytes.
func IntentDigest(i *Intent) (string, error) {
	b, err := CanonicalBytes(i)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// CanonicalConfigDigest calcula un digest estable de un snapshot de
// configuración representado como mapa clave→valor. Se persiste junto al
// intent hash para poder auditar con qué configuración se decidió.
func CanonicalConfigDigest(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(values[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
