package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// ProjectConfig is one entry of the static project list read once at
// startup. Repos are inferred by de-duplicating CloneURL across entries.
type ProjectConfig struct {
	CloneURL string `yaml:"clone_url" mapstructure:"clone_url"`
	// ContainerRange is the [min,max] pair; when present it sets
	// ContainerMin and ContainerMax.
	ContainerRange []int  `yaml:"container_range" mapstructure:"container_range"`
	ContainerMin   int    `yaml:"container_min" mapstructure:"container_min"`
	ContainerMax   int    `yaml:"container_max" mapstructure:"container_max"`
	Dockerfile     string `yaml:"dockerfile" mapstructure:"dockerfile"`
	HookDir        string `yaml:"hook_dir" mapstructure:"hook_dir"`
	ContainerBase  string `yaml:"container_base" mapstructure:"container_base"`
}

type projectFile struct {
	Projects []ProjectConfig `yaml:"projects" mapstructure:"projects"`
}

// LoadProjectConfigs reads and validates the project list from path.
// A malformed or missing file, or an invalid [min,max] range, is a
// configuration error and is fatal at startup (spec.md §7 kind 5).
func LoadProjectConfigs(path string) ([]ProjectConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read project config %s: %w", path, err)
	}
	var doc projectFile
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("parse project config %s: %w", path, err)
	}
	for i := range doc.Projects {
		p := &doc.Projects[i]
		if p.ContainerRange != nil {
			if len(p.ContainerRange) != 2 {
				return nil, fmt.Errorf("project %d: container_range must be [min,max]", i)
			}
			p.ContainerMin, p.ContainerMax = p.ContainerRange[0], p.ContainerRange[1]
		}
		if p.CloneURL == "" {
			return nil, fmt.Errorf("project %d: clone_url is required", i)
		}
		if p.ContainerMin < 1 || p.ContainerMax < p.ContainerMin {
			return nil, fmt.Errorf("project %d: invalid container range [%d,%d]", i, p.ContainerMin, p.ContainerMax)
		}
		if p.Dockerfile == "" {
			return nil, fmt.Errorf("project %d: dockerfile is required", i)
		}
		if p.ContainerBase == "" {
			return nil, fmt.Errorf("project %d: container_base is required", i)
		}
	}
	return doc.Projects, nil
}
