package snapshot

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Additional-Code/bazaar/internal/entity"
)

type fileDoc struct {
	NextID int64                  `yaml:"nextId"`
	Orders map[string]orderRecord `yaml:"orders"`
}

// rawDoc is the read side of fileDoc. Records stay undecoded so one malformed
// record cannot fail the whole file.
type rawDoc struct {
	NextID yaml.Node            `yaml:"nextId"`
	Orders map[string]yaml.Node `yaml:"orders"`
}

type orderRecord struct {
	OwnerID           string        `yaml:"ownerId"`
	OwnerName         string        `yaml:"ownerName"`
	ResourceType      string        `yaml:"resourceType"`
	TotalQuantity     int64         `yaml:"totalQuantity"`
	RemainingQuantity int64         `yaml:"remainingQuantity"`
	PricePerUnit      float64       `yaml:"pricePerUnit"`
	TotalEscrow       float64       `yaml:"totalEscrow"`
	TotalPaid         float64       `yaml:"totalPaid"`
	CreatedAt         int64         `yaml:"createdAt"`
	ExpiresAt         int64         `yaml:"expiresAt"`
	Status            string        `yaml:"status"`
	StoredUnits       []batchRecord `yaml:"storedUnits,omitempty"`
	TrustedCollectors []string      `yaml:"trustedCollectors,omitempty"`
}

type batchRecord struct {
	Type  string `yaml:"type"`
	Count int64  `yaml:"count"`
}

func encode(o entity.Order) orderRecord {
	rec := orderRecord{
		OwnerID:           o.Owner.String(),
		OwnerName:         o.OwnerName,
		ResourceType:      o.ResourceType,
		TotalQuantity:     o.TotalQuantity,
		RemainingQuantity: o.RemainingQuantity,
		PricePerUnit:      o.PricePerUnit,
		TotalEscrow:       o.TotalEscrow,
		TotalPaid:         o.TotalPaid,
		CreatedAt:         toMillis(o.CreatedAt),
		ExpiresAt:         toMillis(o.ExpiresAt),
		Status:            string(o.Status),
	}
	for _, b := range o.StoredUnits {
		rec.StoredUnits = append(rec.StoredUnits, batchRecord{Type: b.ResourceType, Count: b.Count})
	}
	for _, c := range o.TrustedCollectors {
		rec.TrustedCollectors = append(rec.TrustedCollectors, c.String())
	}
	return rec
}

// decode rebuilds one order. Unparsable trusted collectors are returned as skipped
// rather than failing the record.
func decode(key string, rec orderRecord) (entity.Order, []string, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil || id <= 0 {
		return entity.Order{}, nil, fmt.Errorf("invalid order key %q", key)
	}
	owner, err := uuid.Parse(rec.OwnerID)
	if err != nil {
		return entity.Order{}, nil, fmt.Errorf("order %d: invalid owner %q: %w", id, rec.OwnerID, err)
	}
	status, err := entity.ParseStatus(rec.Status)
	if err != nil {
		return entity.Order{}, nil, fmt.Errorf("order %d: %w", id, err)
	}

	o := entity.Order{
		ID:                id,
		Owner:             owner,
		OwnerName:         rec.OwnerName,
		ResourceType:      rec.ResourceType,
		TotalQuantity:     rec.TotalQuantity,
		PricePerUnit:      rec.PricePerUnit,
		TotalEscrow:       rec.TotalEscrow,
		CreatedAt:         fromMillis(rec.CreatedAt),
		RemainingQuantity: rec.RemainingQuantity,
		TotalPaid:         rec.TotalPaid,
		ExpiresAt:         fromMillis(rec.ExpiresAt),
		Status:            status,
	}
	for _, b := range rec.StoredUnits {
		if b.Count <= 0 {
			return entity.Order{}, nil, fmt.Errorf("order %d: stored batch count %d must be positive", id, b.Count)
		}
		o.StoredUnits = append(o.StoredUnits, entity.Batch{ResourceType: b.Type, Count: b.Count})
	}

	var skipped []string
	for _, raw := range rec.TrustedCollectors {
		c, err := uuid.Parse(raw)
		if err != nil {
			skipped = append(skipped, raw)
			continue
		}
		o.Trust(c)
	}

	if err := o.Validate(); err != nil {
		return entity.Order{}, nil, err
	}
	return o, skipped, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
