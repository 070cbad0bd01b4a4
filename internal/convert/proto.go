// Package convert maps domain values to and from google.protobuf.Struct messages.
package convert

import (
	"fmt"
	"math"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/pinlock/internal/errs"
	"github.com/and161185/pinlock/internal/gate"
	model "github.com/and161185/pinlock/internal/model"
	"github.com/and161185/pinlock/internal/session"
)

// Message field names.
const (
	FieldAccountID         = "account_id"
	FieldSessionID         = "session_id"
	FieldSecret            = "secret"
	FieldFactor            = "factor"
	FieldBiometricVerified = "biometric_verified"
	FieldSessionTimeout    = "session_timeout_minutes"
	FieldAutoLock          = "auto_lock_enabled"
	FieldMaxFailedAttempts = "max_failed_attempts"
	FieldLimit             = "limit"
	FieldAllowed           = "allowed"
	FieldReason            = "reason"
	FieldLockedUntil       = "locked_until"
	FieldLocked            = "locked"
	FieldStartedAt         = "started_at"
	FieldLastActivity      = "last_activity"
	FieldTimeoutSeconds    = "timeout_seconds"
	FieldEvents            = "events"
	FieldID                = "id"
	FieldType              = "type"
	FieldDetails           = "details"
	FieldCreatedAt         = "created_at"
)

// --- helpers ---

func str(v string) *structpb.Value { return structpb.NewStringValue(v) }
func num(v float64) *structpb.Value { return structpb.NewNumberValue(v) }
func boolean(v bool) *structpb.Value { return structpb.NewBoolValue(v) }

func ts(t time.Time) *structpb.Value {
	if t.IsZero() {
		return structpb.NewNullValue()
	}
	return str(t.UTC().Format(time.RFC3339Nano))
}

func fields(s *structpb.Struct) map[string]*structpb.Value {
	if s == nil {
		return nil
	}
	return s.GetFields()
}

func getString(s *structpb.Struct, key string) (string, bool, error) {
	v, ok := fields(s)[key]
	if !ok || v.GetKind() == nil {
		return "", false, nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return "", false, nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", false, fmt.Errorf("%w: %s must be a string", errs.ErrInvalidFormat, key)
	}
	return sv.StringValue, true, nil
}

func getBool(s *structpb.Struct, key string) (bool, bool, error) {
	v, ok := fields(s)[key]
	if !ok || v.GetKind() == nil {
		return false, false, nil
	}
	bv, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, false, fmt.Errorf("%w: %s must be a bool", errs.ErrInvalidFormat, key)
	}
	return bv.BoolValue, true, nil
}

func getInt(s *structpb.Struct, key string) (int, bool, error) {
	v, ok := fields(s)[key]
	if !ok || v.GetKind() == nil {
		return 0, false, nil
	}
	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false, fmt.Errorf("%w: %s must be a number", errs.ErrInvalidFormat, key)
	}
	f := nv.NumberValue
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false, fmt.Errorf("%w: %s must be an integer", errs.ErrInvalidFormat, key)
	}
	return int(f), true, nil
}

func getTime(s *structpb.Struct, key string) (*time.Time, error) {
	raw, ok, err := getString(s, key)
	if err != nil || !ok {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrInvalidFormat, key, err)
	}
	return &t, nil
}

func getUUID(s *structpb.Struct, key string, required bool) (u.UUID, error) {
	raw, ok, err := getString(s, key)
	if err != nil {
		return u.Nil, err
	}
	if !ok || raw == "" {
		if required {
			return u.Nil, fmt.Errorf("%w: %s is required", errs.ErrInvalidFormat, key)
		}
		return u.Nil, nil
	}
	var id u.UUID
	if err := id.UnmarshalText([]byte(raw)); err != nil {
		return u.Nil, fmt.Errorf("%w: invalid %s: %v", errs.ErrInvalidFormat, key, err)
	}
	return id, nil
}

// --- requests (client -> server) ---

// FromProtoPreferences reads preference fields. Absent fields take their defaults.
func FromProtoPreferences(in *structpb.Struct) (model.Preferences, error) {
	p := model.DefaultPreferences()
	if v, ok, err := getInt(in, FieldSessionTimeout); err != nil {
		return p, err
	} else if ok {
		p.SessionTimeoutMinutes = v
	}
	if v, ok, err := getBool(in, FieldAutoLock); err != nil {
		return p, err
	} else if ok {
		p.AutoLockEnabled = v
	}
	if v, ok, err := getInt(in, FieldMaxFailedAttempts); err != nil {
		return p, err
	} else if ok {
		p.MaxFailedAttempts = v
	}
	return p, nil
}

// ToProtoPreferences builds the preference fields of an Enroll or Configure request.
func ToProtoPreferences(p model.Preferences) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldSessionTimeout:    num(float64(p.SessionTimeoutMinutes)),
		FieldAutoLock:          boolean(p.AutoLockEnabled),
		FieldMaxFailedAttempts: num(float64(p.MaxFailedAttempts)),
	}}
}

// FromProtoEnroll reads an Enroll request.
func FromProtoEnroll(in *structpb.Struct) (string, model.Preferences, error) {
	secret, _, err := getString(in, FieldSecret)
	if err != nil {
		return "", model.Preferences{}, err
	}
	p, err := FromProtoPreferences(in)
	return secret, p, err
}

// ToProtoEnroll builds an Enroll request.
func ToProtoEnroll(secret string, p model.Preferences) *structpb.Struct {
	out := ToProtoPreferences(p)
	out.Fields[FieldSecret] = str(secret)
	return out
}

// FromProtoSessionRef reads the required session_id field.
func FromProtoSessionRef(in *structpb.Struct) (u.UUID, error) {
	return getUUID(in, FieldSessionID, true)
}

// ToProtoSessionRef builds a request addressing one session.
func ToProtoSessionRef(id u.UUID) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{FieldSessionID: str(id.String())}}
}

// FromProtoAttempt reads an Authorize request for accountID.
func FromProtoAttempt(accountID u.UUID, in *structpb.Struct) (gate.Attempt, error) {
	a := gate.Attempt{AccountID: accountID}
	var err error
	if a.SessionID, err = getUUID(in, FieldSessionID, false); err != nil {
		return a, err
	}
	raw, _, err := getString(in, FieldFactor)
	if err != nil {
		return a, err
	}
	if a.Factor, err = gate.ParseFactor(raw); err != nil {
		return a, err
	}
	if a.Secret, _, err = getString(in, FieldSecret); err != nil {
		return a, err
	}
	if a.BiometricVerified, _, err = getBool(in, FieldBiometricVerified); err != nil {
		return a, err
	}
	return a, nil
}

// ToProtoAttempt builds an Authorize request. The account is implied by the caller's token.
func ToProtoAttempt(a gate.Attempt) *structpb.Struct {
	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldFactor: str(string(a.Factor)),
	}}
	if a.SessionID != u.Nil {
		out.Fields[FieldSessionID] = str(a.SessionID.String())
	}
	if a.Factor == gate.FactorBiometric {
		out.Fields[FieldBiometricVerified] = boolean(a.BiometricVerified)
	} else {
		out.Fields[FieldSecret] = str(a.Secret)
	}
	return out
}

// FromProtoLimit reads the optional limit field.
func FromProtoLimit(in *structpb.Struct) (int, error) {
	v, _, err := getInt(in, FieldLimit)
	return v, err
}

// ToProtoLimit builds a ListEvents request.
func ToProtoLimit(limit int) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{FieldLimit: num(float64(limit))}}
}

// --- responses (server -> client) ---

// ToProtoAccount builds the Enroll response.
func ToProtoAccount(id u.UUID) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{FieldAccountID: str(id.String())}}
}

// ToProtoSession converts a session snapshot.
func ToProtoSession(s session.Snapshot) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldSessionID:      str(s.ID.String()),
		FieldAccountID:      str(s.AccountID.String()),
		FieldLocked:         boolean(s.Locked),
		FieldAutoLock:       boolean(s.AutoLock),
		FieldTimeoutSeconds: num(s.Timeout.Seconds()),
		FieldStartedAt:      ts(s.StartedAt),
		FieldLastActivity:   ts(s.LastActivity),
	}}
}

// FromProtoSession converts a session response.
func FromProtoSession(in *structpb.Struct) (session.Snapshot, error) {
	var s session.Snapshot
	var err error
	if s.ID, err = getUUID(in, FieldSessionID, true); err != nil {
		return s, err
	}
	if s.AccountID, err = getUUID(in, FieldAccountID, false); err != nil {
		return s, err
	}
	if s.Locked, _, err = getBool(in, FieldLocked); err != nil {
		return s, err
	}
	if s.AutoLock, _, err = getBool(in, FieldAutoLock); err != nil {
		return s, err
	}
	secs, _, err := getInt(in, FieldTimeoutSeconds)
	if err != nil {
		return s, err
	}
	s.Timeout = time.Duration(secs) * time.Second
	if t, err := getTime(in, FieldStartedAt); err != nil {
		return s, err
	} else if t != nil {
		s.StartedAt = *t
	}
	if t, err := getTime(in, FieldLastActivity); err != nil {
		return s, err
	} else if t != nil {
		s.LastActivity = *t
	}
	return s, nil
}

// ToProtoDecision converts an authorization decision.
func ToProtoDecision(d model.Decision) *structpb.Struct {
	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldAllowed: boolean(d.Allowed()),
		FieldReason:  str(string(d.Reason)),
	}}
	if d.LockedUntil != nil {
		out.Fields[FieldLockedUntil] = ts(*d.LockedUntil)
	}
	return out
}

// FromProtoDecision converts a decision response. An inconsistent message is a denial.
func FromProtoDecision(in *structpb.Struct) (model.Decision, error) {
	reason, _, err := getString(in, FieldReason)
	if err != nil {
		return model.Decision{}, err
	}
	allowed, _, err := getBool(in, FieldAllowed)
	if err != nil {
		return model.Decision{}, err
	}
	if !allowed && reason == "" {
		reason = string(model.ReasonServiceUnavailable)
	}
	d := model.Deny(model.Reason(reason))
	if d.LockedUntil, err = getTime(in, FieldLockedUntil); err != nil {
		return model.Decision{}, err
	}
	return d, nil
}

// ToProtoEvent converts one security event.
func ToProtoEvent(ev model.SecurityEvent) *structpb.Struct {
	details := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(ev.Details))}
	for k, v := range ev.Details {
		details.Fields[k] = str(v)
	}
	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldID:        str(ev.ID.String()),
		FieldAccountID: str(ev.AccountID.String()),
		FieldType:      str(string(ev.Type)),
		FieldDetails:   structpb.NewStructValue(details),
		FieldCreatedAt: ts(ev.CreatedAt),
	}}
	if ev.SessionID != u.Nil {
		out.Fields[FieldSessionID] = str(ev.SessionID.String())
	}
	return out
}

// ToProtoEvents builds the ListEvents response.
func ToProtoEvents(evs []model.SecurityEvent) *structpb.Struct {
	list := make([]*structpb.Value, 0, len(evs))
	for _, ev := range evs {
		list = append(list, structpb.NewStructValue(ToProtoEvent(ev)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldEvents: structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}
}

// FromProtoEvents converts a ListEvents response.
func FromProtoEvents(in *structpb.Struct) ([]model.SecurityEvent, error) {
	v, ok := fields(in)[FieldEvents]
	if !ok {
		return nil, nil
	}
	lv, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list", errs.ErrInvalidFormat, FieldEvents)
	}
	out := make([]model.SecurityEvent, 0, len(lv.ListValue.GetValues()))
	for i, item := range lv.ListValue.GetValues() {
		s := item.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("%w: events[%d] must be an object", errs.ErrInvalidFormat, i)
		}
		ev, err := fromProtoEvent(s)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func fromProtoEvent(in *structpb.Struct) (model.SecurityEvent, error) {
	var ev model.SecurityEvent
	var err error
	if ev.ID, err = getUUID(in, FieldID, true); err != nil {
		return ev, err
	}
	if ev.AccountID, err = getUUID(in, FieldAccountID, true); err != nil {
		return ev, err
	}
	if ev.SessionID, err = getUUID(in, FieldSessionID, false); err != nil {
		return ev, err
	}
	typ, _, err := getString(in, FieldType)
	if err != nil {
		return ev, err
	}
	ev.Type = model.EventType(typ)
	ev.Details = map[string]string{}
	if d := fields(in)[FieldDetails].GetStructValue(); d != nil {
		for k, v := range d.GetFields() {
			ev.Details[k] = v.GetStringValue()
		}
	}
	if t, err := getTime(in, FieldCreatedAt); err != nil {
		return ev, err
	} else if t != nil {
		ev.CreatedAt = *t
	}
	return ev, nil
}
