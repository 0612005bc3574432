package changes

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
)

var ErrMalformedPayload = errors.New("malformed payload")

// Entity is anything the platform can publish a change for.
type Entity interface {
	EntityKind() EntityKind
	EntityID() string
}

// Envelope is the unit written to the broker.
type Envelope struct {
	Topic   Topic
	Key     string
	Payload []byte
}

// Snapshot is a map-backed Entity. It serializes as its fields only.
type Snapshot struct {
	Kind   EntityKind
	ID     string
	Fields map[string]any
}

func (s Snapshot) EntityKind() EntityKind { return s.Kind }
func (s Snapshot) EntityID() string       { return s.ID }

func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.Fields)
}

// NewEnvelope resolves the topic for the change and serializes the entity.
func NewEnvelope(entity Entity, change ChangeKind) (Envelope, error) {
	if isNil(entity) {
		return Envelope{}, fmt.Errorf("%w: nil entity", ErrMalformedPayload)
	}
	topic, err := TopicFor(entity.EntityKind(), change)
	if err != nil {
		return Envelope{}, err
	}
	payload, err := Encode(entity)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Topic: topic, Key: entity.EntityID(), Payload: payload}, nil
}

// isNil also catches a nil pointer stored in the interface.
func isNil(entity Entity) bool {
	if entity == nil {
		return true
	}
	v := reflect.ValueOf(entity)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// Encode serializes a snapshot structurally. Readers take what they need and ignore the rest.
func Encode(snapshot any) ([]byte, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return raw, nil
}

// Payload is a decoded envelope body read by dotted path.
type Payload struct {
	root map[string]any
}

// Decode fails only when raw is not a JSON object.
func Decode(raw []byte) (Payload, error) {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if root == nil {
		return Payload{}, fmt.Errorf("%w: top level is not an object", ErrMalformedPayload)
	}
	return Payload{root: root}, nil
}

// Lookup walks a dotted path. Missing keys, JSON null and paths through non-objects are absent.
func (p Payload) Lookup(path string) (any, bool) {
	if p.root == nil || path == "" {
		return nil, false
	}
	var cur any = p.root
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Has reports whether path holds a non-null value.
func (p Payload) Has(path string) bool {
	_, ok := p.Lookup(path)
	return ok
}

// String renders a scalar at path. Objects and arrays are reported absent.
func (p Payload) String(path string) (string, bool) {
	v, ok := p.Lookup(path)
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}
