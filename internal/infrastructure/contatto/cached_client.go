package contatto

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/pkg/constants"
)

const devicesCacheKey = "devices"

// CachedClient keeps the device listing and device configurations in memory.
// Writes go straight through and drop the entries they make stale.
type CachedClient struct {
	API
	cache     *cache.Cache
	deviceTTL time.Duration
	configTTL time.Duration
}

// NewCachedClient wraps api. Zero TTLs use the defaults.
func NewCachedClient(api API, deviceTTL, configTTL time.Duration) *CachedClient {
	if deviceTTL <= 0 {
		deviceTTL = constants.DeviceListCacheTTL
	}
	if configTTL <= 0 {
		configTTL = constants.DeviceConfigCacheTTL
	}
	return &CachedClient{
		API:       api,
		cache:     cache.New(deviceTTL, constants.CacheCleanupInterval),
		deviceTTL: deviceTTL,
		configTTL: configTTL,
	}
}

// ListDevices returns the cached listing or fetches a fresh one.
func (c *CachedClient) ListDevices(ctx context.Context) ([]models.Device, error) {
	if v, found := c.cache.Get(devicesCacheKey); found {
		if devices, ok := v.([]models.Device); ok {
			return cloneDevices(devices), nil
		}
	}
	devices, err := c.API.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(devicesCacheKey, cloneDevices(devices), c.deviceTTL)
	return devices, nil
}

// RefreshDevices bypasses the cache and stores the fresh listing.
func (c *CachedClient) RefreshDevices(ctx context.Context) ([]models.Device, error) {
	c.cache.Delete(devicesCacheKey)
	return c.ListDevices(ctx)
}

// DeviceConfiguration returns the cached configuration or fetches it.
func (c *CachedClient) DeviceConfiguration(ctx context.Context, serial string) (models.DeviceConfiguration, error) {
	key := configCacheKey(serial)
	if v, found := c.cache.Get(key); found {
		if cfg, ok := v.(models.DeviceConfiguration); ok {
			return cloneConfig(cfg), nil
		}
	}
	cfg, err := c.API.DeviceConfiguration(ctx, serial)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, cloneConfig(cfg), c.configTTL)
	return cfg, nil
}

// UpdateConfiguration writes through and caches what was written.
func (c *CachedClient) UpdateConfiguration(ctx context.Context, serial string, cfg models.DeviceConfiguration) error {
	c.cache.Delete(configCacheKey(serial))
	if err := c.API.UpdateConfiguration(ctx, serial, cfg); err != nil {
		return err
	}
	c.cache.Set(configCacheKey(serial), cloneConfig(cfg), c.configTTL)
	return nil
}

// UpdateSettings writes through and drops the cached listing.
func (c *CachedClient) UpdateSettings(ctx context.Context, serial string, settings models.DeviceSettings) error {
	err := c.API.UpdateSettings(ctx, serial, settings)
	c.cache.Delete(devicesCacheKey)
	return err
}

// Invalidate drops every cached entry.
func (c *CachedClient) Invalidate() {
	c.cache.Flush()
}

func configCacheKey(serial string) string {
	return "config:" + serial
}

func cloneDevices(in []models.Device) []models.Device {
	out := make([]models.Device, len(in))
	copy(out, in)
	return out
}

func cloneConfig(in models.DeviceConfiguration) models.DeviceConfiguration {
	out := make(models.DeviceConfiguration, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
