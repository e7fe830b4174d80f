package schema

import (
	"time"

	"gorm.io/datatypes"
)

// Kind names an entity type. Together with an id it addresses exactly one record.
type Kind string

const (
	KindUser                Kind = "User"
	KindListing             Kind = "Listing"
	KindPurchase            Kind = "Purchase"
	KindCollection          Kind = "Collection"
	KindMarketplaceStat     Kind = "MarketplaceStat"
	KindCollectionDayData   Kind = "CollectionDayData"
	KindCollectionWeekData  Kind = "CollectionWeekData"
	KindMarketplaceDayData  Kind = "MarketplaceDayData"
	KindMarketplaceWeekData Kind = "MarketplaceWeekData"
	KindActiveListing       Kind = "ActiveListing"
	KindNFT                 Kind = "NFT"
	KindNFTCollection       Kind = "NFTCollection"
	KindNFTAttribute        Kind = "NFTAttribute"
	KindTransfer            Kind = "Transfer"
)

// Entity is a derived record addressable by a deterministic id
type Entity interface {
	EntityKind() Kind
	EntityID() string
}

// EntityRecord represents the entities table. Every entity is stored as an
// opaque JSON document keyed by (kind, id); there are no secondary indexes.
type EntityRecord struct {
	// Kind is the entity type, first half of the primary key
	Kind string `gorm:"column:kind;primaryKey;type:text"`
	// ID is the deterministic entity id, second half of the primary key
	ID string `gorm:"column:id;primaryKey;type:text"`
	// Data is the serialized entity
	Data datatypes.JSON `gorm:"column:data;type:jsonb;not null"`
	// CreatedAt is when the record was first written
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();autoCreateTime"`
	// UpdatedAt is when the record was last written
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();autoUpdateTime"`
}

// TableName specifies the table name for the EntityRecord model
func (EntityRecord) TableName() string {
	return "entities"
}
