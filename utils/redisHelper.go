package utils

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gempos/jewels_backend/config"
)

var mutex sync.Mutex

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

// catalog-ish models expire; transactional models are invalidated explicitly
func typeHasExpiration(typeName string) bool {
	expirableTypes := map[string]bool{
		"Product":         true,
		"ProductCategory": true,
		"PaymentMode":     true,
		"ShopSettings":    true,
	}
	return expirableTypes[typeName]
}

// store instance, obj should be a pointer
func StoreRedis[T any](obj any, id int) error {
	typeName := GetTypeName[T]()
	key := typeName + ":" + fmt.Sprint(id)

	var duration time.Duration
	if typeHasExpiration(typeName) {
		duration = GetCacheLifespan()
	}
	return config.SetRedisObject(key, &obj, duration)
}

// store a shop-scoped list, key TypeList:shop:$shopId
func StoreRedisList[T any](obj any, shopId int) error {
	typeName := GetTypeName[T]()
	key := shopListKey(typeName, shopId)

	var duration time.Duration
	if typeHasExpiration(typeName) {
		duration = GetCacheLifespan()
	}
	return config.SetRedisObject(key, &obj, duration)
}

// get from redis
// returns nil if does not exist
func RetrieveRedis[T any](id int) (*T, error) {
	var result *T
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// retrieve a shop-scoped list
func RetrieveRedisList[T any](shopId int) ([]*T, error) {
	key := shopListKey(GetTypeName[T](), shopId)

	var result []*T
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// clear one list, TypeList:shop:$shopId
func RemoveRedisList[T any](shopId int) error {
	return config.RemoveRedisKey(shopListKey(GetTypeName[T](), shopId))
}

// remove an instance, Type:$id
func RemoveRedisItem[T any](id int) error {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	return config.RemoveRedisKey(key)
}

// InvalidateShopCache drops every cached list for the shop ("*List:shop:$id").
// Best-effort by contract: callers log failures and move on, they never fail
// the business operation over the cache.
func InvalidateShopCache(ctx context.Context, shopId int) error {
	return config.RemoveRedisKeysByPattern(ctx, "*List:shop:"+fmt.Sprint(shopId))
}

func shopListKey(typeName string, shopId int) string {
	return typeName + "List:shop:" + fmt.Sprint(shopId)
}

// GetSequence hands out the next per-shop document sequence number for T.
// Redis INCR is the fast path; on a cold counter the DB max is re-seeded.
// The final uniqueness authority is the DB index on (shop_id, sequence_no),
// this loop only keeps the happy path collision-free.
func GetSequence[T any](ctx context.Context, shopId int) (int64, error) {
	var model T
	mutex.Lock()
	defer mutex.Unlock()
	cacheKey := "shop:" + fmt.Sprint(shopId) + ":" + strings.ToLower(GetTypeName[T]()) + "_seq"
	var seqNo int64
	var err error
	db := config.GetDB()

	for {
		seqNo, err = config.GetRedisCounter(ctx, cacheKey)
		if err != nil {
			return 0, err
		}
		// if not found in redis, seed from db
		if seqNo <= 1 {
			var dbSeq *int64
			if err := db.WithContext(ctx).Model(&model).Select("max(sequence_no)").
				Where("shop_id = ?", shopId).
				Scan(&dbSeq).Error; err != nil {
				return 0, err
			}
			// in case db has no records yet
			if dbSeq == nil {
				seqNo = 0
			} else {
				seqNo = *dbSeq
			}
			seqNo++
			if err := config.SetRedisObject(cacheKey, &seqNo, 0); err != nil {
				return 0, err
			}
		}
		// check the sequence number is still free
		var count int64
		if err := db.WithContext(ctx).Model(&model).
			Where("shop_id = ? AND sequence_no = ?", shopId, seqNo).
			Count(&count).Error; err != nil {
			return 0, err
		}
		if count == 0 {
			break
		}
	}
	return seqNo, nil
}
