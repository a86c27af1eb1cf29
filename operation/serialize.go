package operation

import "fmt"

// ToMap renders the operation as a generic, JSON-friendly mapping. It is the
// portable wire/storage representation referenced throughout the package —
// storage backends that serialize to text (JSON columns, YAML files) should
// round-trip through this shape rather than reflecting over the struct.
func (o Operation) ToMap() map[string]any {
	m := map[string]any{
		"operation_id": o.ID,
		"entity_type":  o.EntityType,
		"entity_id":    o.EntityID,
		"op_kind":      string(o.OpKind.Kind),
		"payload":      map[string]any(o.Payload.Clone()),
		"timestamp":    o.Timestamp,
		"status":       string(o.Status),
		"device_id":    o.DeviceID,
		"retry_count":  o.RetryCount,
	}
	if o.OpKind.Kind == KindCustom {
		m["custom_name"] = o.OpKind.Name
	}
	if o.ErrorMessage != "" {
		m["error_message"] = o.ErrorMessage
	}
	return m
}

// FromMap reconstructs an Operation from the mapping produced by ToMap.
// Round-tripping any valid Operation through ToMap/FromMap yields an equal
// value.
func FromMap(m map[string]any) (Operation, error) {
	var o Operation

	id, _ := m["operation_id"].(string)
	o.ID = id

	entityType, _ := m["entity_type"].(string)
	o.EntityType = entityType

	entityID, _ := m["entity_id"].(string)
	o.EntityID = entityID

	kindStr, _ := m["op_kind"].(string)
	switch Kind(kindStr) {
	case KindCreate:
		o.OpKind = Create()
	case KindUpdate:
		o.OpKind = Update()
	case KindDelete:
		o.OpKind = Delete()
	case KindCustom:
		name, _ := m["custom_name"].(string)
		if name == "" {
			return Operation{}, fmt.Errorf("operation: custom op_kind missing custom_name")
		}
		o.OpKind = Custom(name)
	default:
		return Operation{}, fmt.Errorf("operation: unknown op_kind %q", kindStr)
	}

	switch p := m["payload"].(type) {
	case Payload:
		o.Payload = p.Clone()
	case map[string]any:
		o.Payload = Payload(p).Clone()
	case nil:
		o.Payload = Payload{}
	default:
		return Operation{}, fmt.Errorf("operation: payload has unsupported type %T", p)
	}

	switch ts := m["timestamp"].(type) {
	case int64:
		o.Timestamp = ts
	case int:
		o.Timestamp = int64(ts)
	case float64:
		o.Timestamp = int64(ts)
	}

	status, _ := m["status"].(string)
	o.Status = Status(status)

	deviceID, _ := m["device_id"].(string)
	o.DeviceID = deviceID

	switch rc := m["retry_count"].(type) {
	case int:
		o.RetryCount = rc
	case int64:
		o.RetryCount = int(rc)
	case float64:
		o.RetryCount = int(rc)
	}

	errMsg, _ := m["error_message"].(string)
	o.ErrorMessage = errMsg

	return o, o.Validate()
}
