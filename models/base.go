package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecordAuditEvent implements the transactional outbox: it writes the audit
// row inside the caller's DB transaction but does NOT publish to Pub/Sub.
// Publishing is performed asynchronously by the outbox dispatcher after commit.
func RecordAuditEvent(ctx context.Context, db *gorm.DB, organizationId string, shopId int, occurredAt time.Time, refId int, refType ReferenceType, obj interface{}, oldObj interface{}, action AuditAction) error {

	var objInByte []byte
	var oldObjInByte []byte
	var err error

	if obj != nil {
		objInByte, err = toJSONWithout(obj, "documents")
		if err != nil {
			return err
		}
	}
	if oldObj != nil {
		oldObjInByte, err = toJSONWithout(oldObj, "documents")
		if err != nil {
			return err
		}
	}

	record := AuditEventRecord{
		OrganizationId: organizationId,
		ShopId:         shopId,
		OccurredAt:     occurredAt,
		ReferenceId:    refId,
		ReferenceType:  refType,
		Action:         action,
		ActorId:        actorIdFromContext(ctx),
		ActorName:      actorNameFromContext(ctx),
		NewObj:         objInByte,
		OldObj:         oldObjInByte,
		PublishStatus:  OutboxPublishStatusPending,
		CorrelationId:  correlationIdFromContextOrNew(ctx),
	}
	err = db.Create(&record).Error
	if err != nil {
		return err
	}
	return nil
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func actorIdFromContext(ctx context.Context) int {
	if v, ok := utils.GetUserIdFromContext(ctx); ok {
		return v
	}
	return 0
}

func actorNameFromContext(ctx context.Context) string {
	if v, ok := utils.GetUserNameFromContext(ctx); ok && v != "" {
		return v
	}
	if v, ok := utils.GetUsernameFromContext(ctx); ok {
		return v
	}
	return ""
}

// toJSONWithout marshals an object to JSON with the named top-level keys
// removed. Audit payloads drop bulky associations (document blobs) that the
// consumer never reads.
func toJSONWithout(obj interface{}, jsonKeys ...string) ([]byte, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		// non-object payloads (slices, scalars) pass through untouched
		return raw, nil
	}
	for _, key := range jsonKeys {
		delete(asMap, key)
	}
	return json.Marshal(asMap)
}

// InvalidateShopCacheAfterCommit drops the shop's cached lists. Best effort:
// called only after a successful commit, a cache failure must never surface
// as a business error, so it logs and returns.
func InvalidateShopCacheAfterCommit(ctx context.Context, shopId int) {
	if err := utils.InvalidateShopCache(ctx, shopId); err != nil {
		config.LogError(config.GetLogger(), "models", "InvalidateShopCacheAfterCommit", "cache invalidation failed", shopId, err)
	}
}

// getInvoicePrefix returns the shop's configured invoice prefix for a document
// type ("Sale" or "Purchase"), redis or db.
func getInvoicePrefix(ctx context.Context, shopId int, documentType string) (string, error) {
	invoicePrefixes := make(map[string]string, 0) // documentType => prefix
	redisKey := "invPrefixMap:" + fmt.Sprint(shopId)
	exists, err := config.GetRedisObject(redisKey, &invoicePrefixes)
	if err != nil {
		return "", err
	}
	if !exists {
		db := config.GetDB()
		var settings ShopSettings
		if err := db.WithContext(ctx).Where("shop_id = ?", shopId).First(&settings).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", nil
			}
			return "", err
		}
		invoicePrefixes["Sale"] = settings.SaleInvoicePrefix
		invoicePrefixes["Purchase"] = settings.PurchaseInvoicePrefix
		if err := config.SetRedisObject(redisKey, &invoicePrefixes, 0); err != nil {
			return "", err
		}
	}

	prefix, ok := invoicePrefixes[documentType]
	if !ok {
		return "", nil
	}
	return prefix, nil
}

type Resource interface {
	GetOrganizationId() string
}

// first find in redis, then in db, using ctx's organization_id in WHERE, cache result
// (may return NotFoundError)
func GetResource[T Resource](ctx context.Context, id int, associations ...string) (*T, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	// find in redis
	result, err := utils.RetrieveRedis[T](id)
	if err != nil {
		return nil, err
	}
	// if not found in redis
	if result == nil {
		// fetch from db
		result, err = utils.FetchModel[T](ctx, organizationId, id, associations...)
		if err != nil {
			return nil, err
		}

		// store in redis
		if err := utils.StoreRedis[T](result, id); err != nil {
			return nil, err
		}
	} else {
		// if found in redis
		// check if organization ids match
		if (*result).GetOrganizationId() != organizationId {
			return nil, errors.New("cannot access resource owned by other organization")
		}
	}

	return result, nil
}

// list all shop resources, redis or db, cache result
func ListShopResource[T any](ctx context.Context, shopId int, orders ...string) ([]*T, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	// first try redis cache
	results, err := utils.RetrieveRedisList[T](shopId)
	if err != nil {
		return nil, err
	}
	// if not exists in redis
	if results == nil {
		// fetch from db
		db := config.GetDB()
		var model T
		dbCtx := db.WithContext(ctx).Where("organization_id = ? AND shop_id = ?", organizationId, shopId)
		for _, order := range orders {
			dbCtx = dbCtx.Order(order)
		}
		// db query
		if err = dbCtx.Model(&model).Find(&results).Error; err != nil {
			return nil, err
		}

		// caching the result
		if err := utils.StoreRedisList[T](results, shopId); err != nil {
			return nil, err
		}
	}

	return results, nil
}

type Identifier interface {
	GetId() int
}

// embedding struct will receive ID field, satisfy Identifier interface
type HasId struct {
	ID int `json:"id"`
}

func (h HasId) GetId() int {
	return h.ID
}

type HasIsDeleted struct {
	IsDeletedItem bool `json:"is_deleted_item"`
}

func (i HasIsDeleted) IsDeleted() bool {
	return i.IsDeletedItem
}

// Document
type Upserter interface {
	Store(tx *gorm.DB, ctx context.Context) error
	Delete(tx *gorm.DB, ctx context.Context) error
	Update(tx *gorm.DB, ctx context.Context, fillable map[string]interface{}) error
}

// NewDocument
type Upsertable[ReturnType any] interface {
	Fillable() (map[string]interface{}, error)                          // for updates
	MapInput(referenceType string, referenceId int) (ReturnType, error) // for create
	IsDeleted() bool
	Identifier
}

// upsert input array, insert new, update existing, delete if flagged as isDeletedItem
func UpsertPolymorphicAssociation[ReturnType Upserter, InputType Upsertable[ReturnType]](
	ctx context.Context, tx *gorm.DB, inputSlice []InputType, referenceType string, referenceId int) ([]ReturnType, error) {

	var existingIds []int
	var temp ReturnType
	if err := tx.WithContext(ctx).
		Model(&temp).Where("reference_type = ? AND reference_id = ?", referenceType, referenceId).
		Select("id").Scan(&existingIds).Error; err != nil {
		return nil, err
	}

	var associations []ReturnType
	for _, input := range inputSlice {
		var item ReturnType
		id := input.GetId()

		// if item exists
		if slices.Contains(existingIds, id) {

			// fetch before update/delete
			if err := tx.WithContext(ctx).First(&item, id).Error; err != nil {
				return nil, err
			}

			// delete if input's isDeletedItem field is true
			if input.IsDeleted() {
				if err := item.Delete(tx, ctx); err != nil {
					return nil, err
				}
				// continue next iteration, skipping the appending
				continue

			} else {
				// update otherwise
				update, err := input.Fillable()
				if err != nil {
					return nil, err
				}

				if err := item.Update(tx, ctx, update); err != nil {
					return nil, err
				}
			}
		} else { // insert if id does not exist

			// don't insert if input is to be deleted
			if input.IsDeleted() {
				continue
			}
			// insert new item
			item, err := input.MapInput(referenceType, referenceId)
			if err != nil {
				return nil, err
			}
			if err := item.Store(tx, ctx); err != nil {
				return nil, err
			}
		}
		// append to slice after upserting item
		associations = append(associations, item)
	}

	return associations, nil
}

func ToggleActiveModel[T RedisCleaner](ctx context.Context, organizationId string, id int, isActive bool) (*T, error) {

	var result *T
	var err error
	db := config.GetDB()

	// fetch model before updating
	if organizationId == "" {
		err = db.WithContext(ctx).First(&result, id).Error
	} else {
		err = db.WithContext(ctx).Where("organization_id = ?", organizationId).First(&result, id).Error
	}
	if err != nil {
		return nil, utils.MapDBError(err, utils.GetTypeName[T](), id)
	}

	// update db
	err = db.WithContext(ctx).Model(&result).
		UpdateColumn("IsActive", isActive).Error
	if err != nil {
		return nil, err
	}

	// clear cache
	if err := RemoveRedisBoth(*result); err != nil {
		return nil, err
	}

	return result, nil
}
