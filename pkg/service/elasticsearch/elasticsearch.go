// Package elasticsearch registers the "elasticsearch" service: a single node with security
// disabled.
//
// Options: port, heap (JVM heap size, default "512m").
package elasticsearch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/pressly/ephemeral/pkg/service"
)

const (
	// Name is the registry identifier.
	Name = "elasticsearch"

	DefaultImage = "docker.elastic.co/elasticsearch/elasticsearch"
	DefaultTag   = "7.17.10"
	DefaultHeap  = "512m"

	containerPort = 9200
)

func init() {
	service.Register(Name, func(opts service.Options) (service.Spec, error) {
		return New(opts)
	})
}

// Spec runs Elasticsearch.
type Spec struct {
	service.Base
	url string
}

var _ service.Spec = (*Spec)(nil)

// New builds a Spec from opts.
func New(opts service.Options) (*Spec, error) {
	port, err := service.HostPort(opts)
	if err != nil {
		return nil, err
	}
	heap := opts.Get("heap", DefaultHeap)
	url := "http://" + service.Address(port)
	containerOpts := service.Publish(port, containerPort)
	containerOpts = append(containerOpts, service.Env(
		"discovery.type=single-node",
		"xpack.security.enabled=false",
		"ES_JAVA_OPTS=-Xms"+heap+" -Xmx"+heap,
	)...)
	return &Spec{
		Base: service.Base{
			Image:   DefaultImage,
			Tag:     DefaultTag,
			Options: containerOpts,
			Data: service.ConnectionData{
				service.KeyHost:     service.DefaultHost,
				service.KeyPort:     port,
				service.KeyURL:      url,
				service.KeyConnInfo: url,
			},
		},
		url: url,
	}, nil
}

// IsReady polls until cluster health reaches at least yellow.
func (s *Spec) IsReady(ctx context.Context, _ string) (bool, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{s.url},
		DisableRetry: true,
	})
	if err != nil {
		return false, fmt.Errorf("create elasticsearch client: %w", err)
	}
	health := client.Cluster.Health
	return service.Poll(ctx, time.Second, func(ctx context.Context) error {
		res, err := health(
			health.WithContext(ctx),
			health.WithWaitForStatus("yellow"),
			health.WithTimeout(time.Second),
		)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		_, _ = io.Copy(io.Discard, res.Body)
		if res.IsError() {
			return fmt.Errorf("cluster health: %s", res.Status())
		}
		return nil
	})
}
