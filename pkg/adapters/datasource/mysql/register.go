package mysql

import (
	"context"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "mysql",
			DisplayName: "MySQL",
		},
		Factory: func(ctx context.Context, descriptor string) (datasource.Connection, error) {
			cfg, err := ParseDescriptor(descriptor)
			if err != nil {
				return nil, err
			}
			return NewConnection(cfg)
		},
	})
}
