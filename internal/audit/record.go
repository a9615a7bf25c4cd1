package audit

import (
	"time"

	"github.com/google/uuid"
)

type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// SystemActor подставляется, если бизнес-код не передал actor_id.
const SystemActor = "SYSTEM"

// Event — то, что передает бизнес-код. Из него строится неизменяемый Record.
type Event struct {
	ActorID     string
	Action      string
	Details     string
	ServiceName string
	EntityType  string
	EntityID    string
	SessionID   string
	RequestID   string
	IPAddress   string
	Result      Result
	Timestamp   time.Time // если пусто — время создания записи
}

// Record — запись аудита после редактирования. После создания не меняется.
type Record struct {
	ID          string    `json:"id"`  // UUID записи
	Seq         uint64    `json:"seq"` // Монотонный номер внутри процесса, для упорядочивания при равных timestamp
	ActorID     string    `json:"actor_id"`
	Action      string    `json:"action"`
	Timestamp   time.Time `json:"timestamp"`
	Details     string    `json:"details"` // Уже после RedactionFilter
	ServiceName string    `json:"service_name"`
	EntityType  string    `json:"entity_type,omitempty"`
	EntityID    string    `json:"entity_id,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	Result      Result    `json:"result"`
}

// NewRecord — единственная точка, где выставляются ID, время и дефолты.
// Никаких скрытых мутаций при сохранении.
func NewRecord(ev Event, redactor *Redactor, seq uint64, now time.Time, defaultService string) Record {
	rec := Record{
		ID:          uuid.NewString(),
		Seq:         seq,
		ActorID:     ev.ActorID,
		Action:      ev.Action,
		Timestamp:   ev.Timestamp,
		Details:     ev.Details,
		ServiceName: ev.ServiceName,
		EntityType:  ev.EntityType,
		EntityID:    ev.EntityID,
		SessionID:   ev.SessionID,
		RequestID:   ev.RequestID,
		IPAddress:   ev.IPAddress,
		Result:      ev.Result,
	}
	if rec.ActorID == "" {
		rec.ActorID = SystemActor
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	if rec.ServiceName == "" {
		rec.ServiceName = defaultService
	}
	if rec.Result == "" {
		rec.Result = ResultSuccess
	}
	if redactor != nil {
		rec.Details = redactor.Redact(rec.Details)
	}
	return rec
}

// Option дополняет Event необязательными полями (serviceName?, entityType?, entityId? ...).
type Option func(*Event)

func WithService(name string) Option {
	return func(e *Event) { e.ServiceName = name }
}

func WithEntity(entityType, entityID string) Option {
	return func(e *Event) {
		e.EntityType = entityType
		e.EntityID = entityID
	}
}

func WithSession(sessionID string) Option {
	return func(e *Event) { e.SessionID = sessionID }
}

func WithRequest(requestID string) Option {
	return func(e *Event) { e.RequestID = requestID }
}

func WithIP(ip string) Option {
	return func(e *Event) { e.IPAddress = ip }
}

func WithResult(r Result) Option {
	return func(e *Event) { e.Result = r }
}

func newEvent(actorID, action, details string, opts []Option) Event {
	ev := Event{ActorID: actorID, Action: action, Details: details}
	for _, opt := range opts {
		opt(&ev)
	}
	return ev
}
