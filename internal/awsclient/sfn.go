// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"go.opentelemetry.io/otel/trace"
)

type SFNClient struct {
	Client *sfn.Client
	Tracer trace.Tracer
}

type sfnConfig struct {
	RoleARN      string
	Region       string
	applyConfigs []func(*aws.Config)
	applySFNs    []func(*sfn.Options)
}

// SFNOption is a functional option for GetSFN.
type SFNOption func(*sfnConfig)

// WithSFNRole sets the IAM Role ARN to assume (empty = no assume).
func WithSFNRole(roleARN string) SFNOption {
	return func(c *sfnConfig) {
		c.RoleARN = roleARN
	}
}

// WithSFNRegion overrides the AWS region for this call.
func WithSFNRegion(region string) SFNOption {
	return func(c *sfnConfig) {
		c.Region = region
	}
}

// WithSFNEndpoint forces a custom Step Functions endpoint (eg LocalStack).
func WithSFNEndpoint(url string) SFNOption {
	return func(c *sfnConfig) {
		c.applySFNs = append(c.applySFNs, func(o *sfn.Options) {
			o.BaseEndpoint = aws.String(url)
		})
	}
}

func (m *Manager) GetSFN(ctx context.Context, opts ...SFNOption) (*SFNClient, error) {
	sc := sfnConfig{Region: m.baseCfg.Region}
	for _, o := range opts {
		o(&sc)
	}

	cfg := m.configFor(sc.Region, sc.RoleARN, sc.applyConfigs)
	client := sfn.NewFromConfig(cfg, sc.applySFNs...)

	return &SFNClient{Client: client, Tracer: m.tracer}, nil
}
