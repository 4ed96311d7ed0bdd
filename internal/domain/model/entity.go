package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownEntity is returned when an entity type has no registered schema.
var ErrUnknownEntity = errors.New("unknown entity type")

// EntityType names a category of remote resource synced as a unit (e.g. "vendor").
type EntityType string

// Supported entity types.
const (
	EntityVendor     EntityType = "vendor"
	EntityVendorBill EntityType = "vendorbill"
)

// FieldKind selects how a known field value is projected into its typed column.
type FieldKind int

const (
	KindText FieldKind = iota
	KindBool           // JSON bool or "T"/"F".
	KindNumber         // JSON number or numeric string.
	KindRef            // {"id": "...", "refName": "..."}; refName preferred.
	KindTime           // ISO-8601 string, stored verbatim.
)

// KnownField is one entry of an entity's known-field allow-list. Column is empty
// for known fields that are kept only in the known-field JSON document.
type KnownField struct {
	Name   string
	Column string
	Kind   FieldKind
}

// EntitySchema describes the stable part of a remote entity type and the local
// table it is persisted to.
type EntitySchema struct {
	Type   EntityType
	Table  string
	Fields []KnownField

	index map[string]KnownField
}

// metadataFields are present on every remote payload and belong to no business schema.
var metadataFields = []KnownField{
	{Name: "id"},
	{Name: "links"},
	{Name: "refName"},
}

func newSchema(t EntityType, table string, fields ...KnownField) EntitySchema {
	s := EntitySchema{Type: t, Table: table, index: make(map[string]KnownField, len(fields)+len(metadataFields))}
	for _, f := range metadataFields {
		s.index[f.Name] = f
	}
	for _, f := range fields {
		s.index[f.Name] = f
	}
	s.Fields = fields
	return s
}

var schemas = map[EntityType]EntitySchema{
	EntityVendor: newSchema(EntityVendor, "vendors",
		KnownField{Name: "entityId", Column: "entity_id", Kind: KindText},
		KnownField{Name: "companyName", Column: "company_name", Kind: KindText},
		KnownField{Name: "email", Column: "email", Kind: KindText},
		KnownField{Name: "phone", Column: "phone", Kind: KindText},
		KnownField{Name: "isInactive", Column: "is_inactive", Kind: KindBool},
		KnownField{Name: "balance", Column: "balance", Kind: KindNumber},
		KnownField{Name: "currency", Column: "currency", Kind: KindRef},
		KnownField{Name: "terms", Column: "terms", Kind: KindRef},
		KnownField{Name: "dateCreated", Column: "date_created", Kind: KindTime},
		KnownField{Name: "lastModifiedDate", Column: "last_modified_date", Kind: KindTime},
		KnownField{Name: "legalName"},
		KnownField{Name: "fax"},
		KnownField{Name: "url"},
		KnownField{Name: "isPerson"},
		KnownField{Name: "balancePrimary"},
		KnownField{Name: "creditLimit"},
		KnownField{Name: "unbilledOrders"},
		KnownField{Name: "unbilledOrdersPrimary"},
		KnownField{Name: "category"},
		KnownField{Name: "subsidiary"},
		KnownField{Name: "taxIdNum"},
		KnownField{Name: "accountNumber"},
		KnownField{Name: "addressBook"},
		KnownField{Name: "contactList"},
		KnownField{Name: "currencyList"},
		KnownField{Name: "comments"},
		KnownField{Name: "altName"},
		KnownField{Name: "defaultAddress"},
		KnownField{Name: "emailPreference"},
		KnownField{Name: "workCalendar"},
	),
	EntityVendorBill: newSchema(EntityVendorBill, "vendor_bills",
		KnownField{Name: "tranId", Column: "tran_id", Kind: KindText},
		KnownField{Name: "entity", Column: "vendor_ref", Kind: KindRef},
		KnownField{Name: "tranDate", Column: "tran_date", Kind: KindTime},
		KnownField{Name: "dueDate", Column: "due_date", Kind: KindTime},
		KnownField{Name: "createdDate", Column: "created_date", Kind: KindTime},
		KnownField{Name: "lastModifiedDate", Column: "last_modified_date", Kind: KindTime},
		KnownField{Name: "userTotal", Column: "amount", Kind: KindNumber},
		KnownField{Name: "exchangeRate", Column: "exchange_rate", Kind: KindNumber},
		KnownField{Name: "currency", Column: "currency", Kind: KindRef},
		KnownField{Name: "status", Column: "status", Kind: KindRef},
		KnownField{Name: "memo", Column: "memo", Kind: KindText},
		KnownField{Name: "total"},
		KnownField{Name: "amountRemaining"},
		KnownField{Name: "approvalStatus"},
		KnownField{Name: "subsidiary"},
		KnownField{Name: "tranStatus"},
	),
}

// LookupSchema returns the registered schema for t.
func LookupSchema(t EntityType) (EntitySchema, error) {
	s, ok := schemas[t]
	if !ok {
		return EntitySchema{}, fmt.Errorf("%w: %q", ErrUnknownEntity, t)
	}
	return s, nil
}

// EntityTypes returns all registered entity types in name order.
func EntityTypes() []EntityType {
	types := make([]EntityType, 0, len(schemas))
	for t := range schemas {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ParseEntityType validates a user-supplied entity type name.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if _, err := LookupSchema(t); err != nil {
		return "", err
	}
	return t, nil
}

// IsKnown reports whether key is on the schema's allow-list.
func (s EntitySchema) IsKnown(key string) bool {
	_, ok := s.index[key]
	return ok
}

// Columns returns the known fields that have a typed column, in declaration order.
func (s EntitySchema) Columns() []KnownField {
	cols := make([]KnownField, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Column != "" {
			cols = append(cols, f)
		}
	}
	return cols
}

// Split partitions payload keys into known and custom fields. Every key lands in
// exactly one of the two maps.
func (s EntitySchema) Split(payload map[string]any) (known, custom map[string]any) {
	known = make(map[string]any)
	custom = make(map[string]any)
	for k, v := range payload {
		if s.IsKnown(k) {
			known[k] = v
		} else {
			custom[k] = v
		}
	}
	return known, custom
}
