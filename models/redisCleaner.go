package models

import (
	"github.com/gempos/jewels_backend/utils"
)

type RedisCleaner interface {
	RemoveInstanceRedis() error // remove one
	RemoveAllRedis() error      // remove list if exists
}

// remove both item & list
func RemoveRedisBoth[T RedisCleaner](obj T) error {
	if err := obj.RemoveInstanceRedis(); err != nil {
		return err
	}
	if err := obj.RemoveAllRedis(); err != nil {
		return err
	}
	return nil
}

func (obj Product) RemoveInstanceRedis() error {
	if err := utils.RemoveRedisItem[Product](obj.ID); err != nil {
		return err
	}
	return nil
}

func (obj Product) RemoveAllRedis() error {
	return nil
}

func (obj ProductCategory) RemoveInstanceRedis() error {
	if err := utils.RemoveRedisItem[ProductCategory](obj.ID); err != nil {
		return err
	}
	return nil
}

func (obj ProductCategory) RemoveAllRedis() error {
	if err := utils.RemoveRedisList[ProductCategory](obj.ShopId); err != nil {
		return err
	}
	return nil
}

func (obj PaymentMode) RemoveInstanceRedis() error {
	return nil
}

func (obj PaymentMode) RemoveAllRedis() error {
	if err := utils.RemoveRedisList[PaymentMode](obj.ShopId); err != nil {
		return err
	}
	return nil
}

func (obj Customer) RemoveInstanceRedis() error {
	if err := utils.RemoveRedisItem[Customer](obj.ID); err != nil {
		return err
	}
	return nil
}

func (obj Customer) RemoveAllRedis() error {
	return nil
}

func (obj Supplier) RemoveInstanceRedis() error {
	if err := utils.RemoveRedisItem[Supplier](obj.ID); err != nil {
		return err
	}
	return nil
}

func (obj Supplier) RemoveAllRedis() error {
	return nil
}
