package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	userStore         *UserStore
	notificationStore *NotificationStore
	rewardStore       *RewardStore
	markerStore       *MarkerStore
	gateway           *Gateway
	userIDCache       repositorycache.CacheService
}

type FactoryOption func(*RepositoryFactory)

// WithUserIDCache enables cached email to user id resolution on the gateway.
func WithUserIDCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.userIDCache = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	f := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (*RepositoryFactory, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.gateway != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) UserStore() *UserStore {
	if f == nil {
		return nil
	}
	return f.userStore
}

func (f *RepositoryFactory) NotificationStore() *NotificationStore {
	if f == nil {
		return nil
	}
	return f.notificationStore
}

func (f *RepositoryFactory) RewardStore() *RewardStore {
	if f == nil {
		return nil
	}
	return f.rewardStore
}

func (f *RepositoryFactory) MarkerStore() *MarkerStore {
	if f == nil {
		return nil
	}
	return f.markerStore
}

func (f *RepositoryFactory) Gateway() *Gateway {
	if f == nil {
		return nil
	}
	return f.gateway
}

func (f *RepositoryFactory) initStores() error {
	userStore, err := NewUserStore(f.db)
	if err != nil {
		return err
	}
	notificationStore, err := NewNotificationStore(f.db)
	if err != nil {
		return err
	}
	rewardStore, err := NewRewardStore(f.db)
	if err != nil {
		return err
	}
	markerStore, err := NewMarkerStore(f.db)
	if err != nil {
		return err
	}

	var gatewayOpts []GatewayOption
	if f.userIDCache != nil {
		resolver, err := NewCachedUserResolver(userStore, f.userIDCache)
		if err != nil {
			return err
		}
		gatewayOpts = append(gatewayOpts, WithUserResolver(resolver))
	}
	gateway, err := NewGateway(userStore, notificationStore, rewardStore, gatewayOpts...)
	if err != nil {
		return err
	}

	f.userStore = userStore
	f.notificationStore = notificationStore
	f.rewardStore = rewardStore
	f.markerStore = markerStore
	f.gateway = gateway
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
