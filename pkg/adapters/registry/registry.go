// Package registry selects a driver family at startup.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kvgate/kvgate/pkg/adapters/driver"
	"github.com/kvgate/kvgate/pkg/adapters/driver/goredis"
	"github.com/kvgate/kvgate/pkg/adapters/driver/redigo"
)

// FamilyInfo describes a driver family for listings.
type FamilyInfo struct {
	Type        string `json:"type" yaml:"type"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Description string `json:"description" yaml:"description"`
}

type registration struct {
	info    FamilyInfo
	factory func(opts driver.Options, logger *zap.Logger) driver.Factory
}

// families is fixed at compile time. Both families are always built in.
var families = map[driver.Family]registration{
	driver.FamilyGoRedis: {
		info: FamilyInfo{
			Type:        string(driver.FamilyGoRedis),
			DisplayName: "go-redis",
			Description: "github.com/redis/go-redis/v9, replies as status tokens",
		},
		factory: goredis.NewFactory,
	},
	driver.FamilyRedigo: {
		info: FamilyInfo{
			Type:        string(driver.FamilyRedigo),
			DisplayName: "Redigo",
			Description: "github.com/gomodule/redigo, replies as booleans",
		},
		factory: redigo.NewFactory,
	},
}

// New returns the factory for family. Unknown families fail fast.
func New(family string, opts driver.Options, logger *zap.Logger) (driver.Factory, error) {
	reg, ok := families[driver.Family(family)]
	if !ok {
		return nil, fmt.Errorf("unsupported driver family: %q", family)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return reg.factory(opts, logger.Named("driver")), nil
}

// IsRegistered reports whether family is known.
func IsRegistered(family string) bool {
	_, ok := families[driver.Family(family)]
	return ok
}

// Families lists every family, sorted by type.
func Families() []FamilyInfo {
	result := make([]FamilyInfo, 0, len(families))
	for _, reg := range families {
		result = append(result, reg.info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// ClosePersistent closes the persistent sockets of every family. Call it once
// on final process exit.
func ClosePersistent() error {
	return errors.Join(goredis.ClosePersistent(), redigo.ClosePersistent())
}
