package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// RawRecord is one upstream API record as decoded from JSON. Field names
// vary between API versions, so raw records never travel past the
// normalization boundary.
type RawRecord map[string]interface{}

// CanonicalRecord is the normalized form of one upstream record. Fields holds
// only the keys that were actually present (directly or via an alias) in the
// raw record; absent fields stay absent so they never overwrite stored
// values during an upsert.
type CanonicalRecord struct {
	Kind       DataKind
	NaturalKey string
	OwnerID    string
	Fields     bson.M
}

// Has reports whether the canonical record carries a value for the field.
func (r CanonicalRecord) Has(field string) bool {
	v, ok := r.Fields[field]
	return ok && v != nil
}

// StoredRecord is the persisted shape of a synced record. The document id is
// the deterministic composite ownerID_naturalKey; NaturalKey is the upstream
// source's own identifier (order_id for sales, tsin_id for products).
type StoredRecord struct {
	DocID      string    `bson:"_id"`
	NaturalKey string    `bson:"natural_key"`
	OwnerID    string    `bson:"owner_id"`
	Source     string    `bson:"source"`
	Fields     bson.M    `bson:",inline"`
	FirstSeen  time.Time `bson:"first_seen"`
	LastFetch  time.Time `bson:"last_fetched"`
}

// Canonical field names produced by the normalizer and tracked by the
// diff-aware upsert engine.
const (
	FieldOrderID        = "order_id"
	FieldTsinID         = "tsin_id"
	FieldSellingPrice   = "selling_price"
	FieldStatus         = "status"
	FieldTotalFee       = "total_fee"
	FieldQuantity       = "quantity"
	FieldCommission     = "commission"
	FieldShippingFee    = "shipping_fee"
	FieldDeliveryDate   = "delivery_date"
	FieldTrackingNumber = "tracking_number"
	FieldCustomerName   = "customer_name"
	FieldDerivedStatus  = "derived_status"
	FieldGrossAmount    = "gross_amount"
	FieldOrderDate      = "order_date"
)

// CompareFields is the fixed field set inspected when deciding whether a
// stored record needs an update. Any single changed field triggers a full
// update of the incoming non-nil fields.
var CompareFields = []string{
	FieldSellingPrice,
	FieldStatus,
	FieldTotalFee,
	FieldQuantity,
	FieldCommission,
	FieldShippingFee,
	FieldDeliveryDate,
	FieldTrackingNumber,
	FieldCustomerName,
	FieldDerivedStatus,
	FieldGrossAmount,
}

// NumericTolerance absorbs floating point noise when comparing numeric
// fields: differences at or below it are treated as unchanged.
const NumericTolerance = 0.01
