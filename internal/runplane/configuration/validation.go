package configuration

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	commonconfig "github.com/armadaproject/runplane/internal/common/config"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

// Validate runs the struct tag checks and the cross field checks the tags cannot express.
func (c RunplaneConfiguration) Validate() error {
	if err := commonconfig.Validate(c); err != nil {
		return err
	}

	var result *multierror.Error
	seen := map[string]bool{}
	for _, pool := range c.Pools {
		if seen[pool.Name] {
			result = multierror.Append(result, fmt.Errorf("pool %s is defined more than once", pool.Name))
		}
		seen[pool.Name] = true
		if pool.Backend == "kubernetes" && pool.Kubernetes.Namespace == "" {
			result = multierror.Append(result, fmt.Errorf("pool %s needs a kubernetes namespace", pool.Name))
		}
		for class := range pool.Devices {
			if class != task.CPU && class != task.GPU {
				result = multierror.Append(result, fmt.Errorf("pool %s has unknown device class %s", pool.Name, class))
			}
		}
	}
	return result.ErrorOrNil()
}

func (c RunplaneConfiguration) Pool(name string) (PoolConfiguration, bool) {
	for _, pool := range c.Pools {
		if pool.Name == name {
			return pool, true
		}
	}
	return PoolConfiguration{}, false
}
