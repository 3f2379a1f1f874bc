package services

import (
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/sellerops/marketsync/internal/models"
)

// fieldAliases maps each canonical field to the upstream names that may
// carry it, in priority order. The first non-empty value wins. Upstream
// payloads are not stable across API versions, which is why the list per
// field is ordered rather than a single name.
var fieldAliases = map[string][]string{
	models.FieldStatus:         {"order_status", "status", "sale_status"},
	models.FieldCustomerName:   {"customer_name", "buyer_name", "customer"},
	models.FieldSellingPrice:   {"selling_price", "price", "offer_price"},
	models.FieldTotalFee:       {"total_fee", "fee", "total_fees"},
	models.FieldQuantity:       {"quantity", "qty", "quantity_sold"},
	models.FieldCommission:     {"commission", "success_fee"},
	models.FieldShippingFee:    {"shipping_fee", "fulfilment_fee", "courier_fee"},
	models.FieldDeliveryDate:   {"delivery_date", "delivered_date"},
	models.FieldTrackingNumber: {"tracking_number", "waybill_number", "tracking"},
	models.FieldOrderDate:      {"order_date", "order_created_date", "created_date", "sale_date"},
}

// naturalKeyAliases maps each data kind to the upstream names that may carry
// the record's natural key.
var naturalKeyAliases = map[models.DataKind][]string{
	models.DataKindSales:    {"order_id", "order_item_id"},
	models.DataKindProducts: {"tsin_id", "tsin", "offer_id"},
}

// Normalize maps one raw upstream record into its canonical form. It is a
// pure function: it never errors, it only includes fields that were actually
// present in the raw record, and it degrades gracefully when aliases are
// missing. The natural key ends up empty when none of its aliases resolve;
// the upsert engine rejects such records.
func Normalize(kind models.DataKind, raw models.RawRecord, ownerID string) models.CanonicalRecord {
	fields := bson.M{}

	for canonical, aliases := range fieldAliases {
		if v, ok := resolveAlias(raw, aliases); ok {
			fields[canonical] = v
		}
	}

	naturalKey := ""
	if v, ok := resolveAlias(raw, naturalKeyAliases[kind]); ok {
		naturalKey = asString(v)
	}
	keyField := models.FieldOrderID
	if kind == models.DataKindProducts {
		keyField = models.FieldTsinID
	}
	if naturalKey != "" {
		fields[keyField] = naturalKey
	}

	if status, ok := fields[models.FieldStatus]; ok {
		fields[models.FieldDerivedStatus] = deriveStatus(asString(status))
	}

	// gross_amount = max(0, selling_price - total_fee); either side defaults
	// to zero, but the derived field is only attached when at least one side
	// was present so it never overwrites a known stored value with noise.
	price, hasPrice := toFloat(fields[models.FieldSellingPrice])
	fee, hasFee := toFloat(fields[models.FieldTotalFee])
	if hasPrice || hasFee {
		gross := price - fee
		if gross < 0 {
			gross = 0
		}
		fields[models.FieldGrossAmount] = gross
	}

	return models.CanonicalRecord{
		Kind:       kind,
		NaturalKey: naturalKey,
		OwnerID:    ownerID,
		Fields:     fields,
	}
}

// OrderDate extracts the parsed order date from a canonical record, if any.
func OrderDate(rec models.CanonicalRecord) (time.Time, bool) {
	v, ok := rec.Fields[models.FieldOrderDate]
	if !ok {
		return time.Time{}, false
	}
	return parseDate(asString(v))
}

func resolveAlias(raw models.RawRecord, aliases []string) (interface{}, bool) {
	for _, name := range aliases {
		v, ok := raw[name]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// deriveStatus collapses the many upstream status strings into the buckets
// the dashboards group by.
func deriveStatus(status string) string {
	s := strings.ToLower(status)
	switch {
	case strings.Contains(s, "cancel"):
		return "Cancelled"
	case strings.Contains(s, "return"):
		return "Returned"
	case strings.Contains(s, "shipped") || strings.Contains(s, "delivered") || strings.Contains(s, "complete"):
		return "Completed"
	default:
		return "Processing"
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// toFloat coerces JSON and BSON numeric shapes (float64, int variants,
// numeric strings) into a float64.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int32:
		return strconv.FormatInt(int64(s), 10)
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return ""
	}
}
