// Package internal contiene el pipeline de despacho de Arbiter: snapshot de
// configuración fail-closed, gates, journal durable, dispatch chokepoint,
// reconciliador y el Core que los cablea.
package internal

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/xKoRx/arbiter/sdk/domain"
	"github.com/xKoRx/arbiter/sdk/utils"
)

// KV es la operación mínima que el loader necesita del backend de
// configuración (facilita stubs en tests).
type KV interface {
	// Get retorna el valor de una clave y si existe.
	Get(ctx context.Context, key string) (value string, found bool, err error)
}

// EtcdKV implementa KV sobre etcd con namespace arbiter/{env}/.
type EtcdKV struct {
	client  *clientv3.Client
	prefix  string
	timeout time.Duration
}

var _ KV = (*EtcdKV)(nil)

// NewEtcdKV crea un KV sobre etcd. El prefix resultante es "arbiter/{env}/".
func NewEtcdKV(endpoints []string, env string, timeout time.Duration) (*EtcdKV, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating etcd client: %w", err)
	}
	return &EtcdKV{
		client:  cli,
		prefix:  "arbiter/" + env + "/",
		timeout: timeout,
	}, nil
}

// Get obtiene una clave bajo el namespace del cliente.
func (e *EtcdKV) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Get(ctx, e.prefix+key)
	if err != nil {
		return "", false, fmt.Errorf("etcd get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

// Close cierra el cliente etcd subyacente.
func (e *EtcdKV) Close() error {
	if e == nil || e.client == nil {
		return nil
	}
	return e.client.Close()
}

// PolicyFlags son los permisos de política de órdenes del snapshot.
type PolicyFlags struct {
	AllowLinkedOrders bool
	AllowMarketOrders bool
	AllowStopOrders   bool
}

// RiskLimits son los límites de riesgo del snapshot.
type RiskLimits struct {
	MaxExposure float64 // exposición absoluta máxima por cuenta+instrumento
	MaxOrderQty float64 // cantidad cuantizada máxima por orden
}

// ConfigSnapshot es la configuración inmutable bajo la que se evalúa cada
// decisión. Se construye completa o no se construye: una clave requerida
// ausente o inparseable aborta la carga listando todas las faltantes, nunca
// se sustituye por un default.
type ConfigSnapshot struct {
	Instruments map[string]*domain.InstrumentSpec
	Policy      PolicyFlags
	Risk        RiskLimits

	// Digest canónico del snapshot, persistido junto a cada decisión para
	// auditar con qué configuración se decidió.
	Digest     string
	LoadedAtMs int64
}

// Spec retorna el spec de un instrumento del snapshot.
func (s *ConfigSnapshot) Spec(instrument string) (*domain.InstrumentSpec, bool) {
	if s == nil {
		return nil, false
	}
	spec, ok := s.Instruments[instrument]
	return spec, ok
}

// Claves de política y riesgo.
const (
	keyAllowLinkedOrders = "policy/allow_linked_orders"
	keyAllowMarketOrders = "policy/allow_market_orders"
	keyAllowStopOrders   = "policy/allow_stop_orders"
	keyMaxExposure       = "risk/max_exposure"
	keyMaxOrderQty       = "risk/max_order_qty"
)

var instrumentFields = []string{"tick_size", "amount_step", "min_amount", "contract_multiplier"}

// RequiredKeys enumera todas las claves que el snapshot exige para los
// instrumentos dados. La lista es un artefacto auditable: el test de
// fail-closed itera sobre ella quitando una clave a la vez.
func RequiredKeys(instruments []string) []string {
	keys := []string{
		keyAllowLinkedOrders,
		keyAllowMarketOrders,
		keyAllowStopOrders,
		keyMaxExposure,
		keyMaxOrderQty,
	}
	for _, inst := range instruments {
		for _, field := range instrumentFields {
			keys = append(keys, "instruments/"+inst+"/"+field)
		}
	}
	sort.Strings(keys)
	return keys
}

// LoadSnapshot carga un ConfigSnapshot completo desde el KV.
//
// Fail-closed: si cualquier clave requerida falta o no parsea, retorna
// CONFIG_MISSING con la matriz completa de claves faltantes en Details,
// no sólo la primera.
func LoadSnapshot(ctx context.Context, kv KV, instruments []string) (*ConfigSnapshot, error) {
	if len(instruments) == 0 {
		return nil, domain.NewError(domain.ErrConfigMissing, "no instruments configured")
	}

	values := make(map[string]string)
	var missing []string

	for _, key := range RequiredKeys(instruments) {
		val, found, err := kv.Get(ctx, key)
		if err != nil {
			return nil, domain.WrapError(domain.ErrConfigMissing, "config backend unavailable", err).
				WithDetail("key", key)
		}
		if !found || val == "" {
			missing = append(missing, key)
			continue
		}
		values[key] = val
	}

	snap := &ConfigSnapshot{
		Instruments: make(map[string]*domain.InstrumentSpec, len(instruments)),
		LoadedAtMs:  utils.NowUnixMilli(),
	}

	parseBool := func(key string) bool {
		raw, ok := values[key]
		if !ok {
			return false
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			missing = append(missing, key)
			return false
		}
		return b
	}
	parseFloat := func(key string) float64 {
		raw, ok := values[key]
		if !ok {
			return 0
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			missing = append(missing, key)
			return 0
		}
		return f
	}

	snap.Policy = PolicyFlags{
		AllowLinkedOrders: parseBool(keyAllowLinkedOrders),
		AllowMarketOrders: parseBool(keyAllowMarketOrders),
		AllowStopOrders:   parseBool(keyAllowStopOrders),
	}
	snap.Risk = RiskLimits{
		MaxExposure: parseFloat(keyMaxExposure),
		MaxOrderQty: parseFloat(keyMaxOrderQty),
	}

	for _, inst := range instruments {
		prefix := "instruments/" + inst + "/"
		spec := &domain.InstrumentSpec{
			Instrument:         inst,
			TickSize:           parseFloat(prefix + "tick_size"),
			AmountStep:         parseFloat(prefix + "amount_step"),
			MinAmount:          parseFloat(prefix + "min_amount"),
			ContractMultiplier: parseFloat(prefix + "contract_multiplier"),
		}
		snap.Instruments[inst] = spec
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, domain.NewError(domain.ErrConfigMissing, "required config keys missing or unparseable").
			WithDetail("missing_keys", missing).
			WithDetail("missing_count", len(missing))
	}

	// Specs inválidos (tick 0, step negativo) también son fail-closed: la
	// clave existe pero el snapshot no es usable.
	for inst, spec := range snap.Instruments {
		if err := spec.Validate(); err != nil {
			return nil, domain.WrapError(domain.ErrConfigMissing, "invalid instrument spec in config", err).
				WithDetail("instrument", inst)
		}
	}

	snap.Digest = domain.CanonicalConfigDigest(values)
	return snap, nil
}
