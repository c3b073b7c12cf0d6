/*
Copyright (c) 2022 PaddlePaddle Authors. All Rights Reserve.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cloud

import (
	"context"
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	defaultNetwork   = "global/networks/default"
	instanceRunning  = "RUNNING"
	firewallPriority = 1000
	protocolTCP      = "tcp"
)

var instanceScopes = []string{
	"https://www.googleapis.com/auth/devstorage.read_write",
	"https://www.googleapis.com/auth/logging.write",
}

type InstanceSpec struct {
	Name          string
	MachineType   string
	Image         string
	StartupScript string
	Bucket        string
}

// Compute is the subset of the compute engine api used to serve models on virtual machines
type Compute interface {
	CreateInstance(ctx context.Context, spec InstanceSpec) error
	// DeleteInstance treats a missing instance as deleted
	DeleteInstance(ctx context.Context, name string) error
	// ExternalIP returns "" while the instance is not running or has no address yet
	ExternalIP(ctx context.Context, name string) (string, error)
	FirewallPorts(ctx context.Context, name string) (ports []string, exists bool, err error)
	CreateFirewall(ctx context.Context, name string, ports []string) error
	SetFirewallPorts(ctx context.Context, name string, ports []string) error
}

type GCECompute struct {
	service *compute.Service
	project string
	zone    string
}

func NewGCECompute(ctx context.Context, project, zone, credentialsFile string) (*GCECompute, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	service, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create compute engine client")
	}
	return &GCECompute{service: service, project: project, zone: zone}, nil
}

func (c *GCECompute) CreateInstance(ctx context.Context, spec InstanceSpec) error {
	image, err := c.service.Images.Get(c.project, spec.Image).Context(ctx).Do()
	if err != nil {
		return pkgerrors.Wrapf(err, "get image %s", spec.Image)
	}
	startupScript := spec.StartupScript
	bucket := spec.Bucket
	instance := &compute.Instance{
		Name:        spec.Name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", c.zone, spec.MachineType),
		Disks: []*compute.AttachedDisk{
			{
				Boot:       true,
				AutoDelete: true,
				InitializeParams: &compute.AttachedDiskInitializeParams{
					SourceImage: image.SelfLink,
				},
			},
		},
		NetworkInterfaces: []*compute.NetworkInterface{
			{
				Network: defaultNetwork,
				AccessConfigs: []*compute.AccessConfig{
					{Type: "ONE_TO_ONE_NAT", Name: "External NAT"},
				},
			},
		},
		ServiceAccounts: []*compute.ServiceAccount{
			{Email: "default", Scopes: instanceScopes},
		},
		Metadata: &compute.Metadata{
			Items: []*compute.MetadataItems{
				{Key: "startup-script", Value: &startupScript},
				{Key: "bucket", Value: &bucket},
			},
		},
	}
	if _, err = c.service.Instances.Insert(c.project, c.zone, instance).Context(ctx).Do(); err != nil {
		return pkgerrors.Wrapf(err, "insert instance %s", spec.Name)
	}
	log.Infof("instance %s insert requested in %s/%s", spec.Name, c.project, c.zone)
	return nil
}

func (c *GCECompute) DeleteInstance(ctx context.Context, name string) error {
	_, err := c.service.Instances.Delete(c.project, c.zone, name).Context(ctx).Do()
	if isNotFound(err) {
		log.Warningf("instance %s already gone", name)
		return nil
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "delete instance %s", name)
	}
	return nil
}

func (c *GCECompute) ExternalIP(ctx context.Context, name string) (string, error) {
	instance, err := c.service.Instances.Get(c.project, c.zone, name).Context(ctx).Do()
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", pkgerrors.Wrapf(err, "get instance %s", name)
	}
	if instance.Status != instanceRunning {
		return "", nil
	}
	if len(instance.NetworkInterfaces) == 0 || len(instance.NetworkInterfaces[0].AccessConfigs) == 0 {
		return "", nil
	}
	return instance.NetworkInterfaces[0].AccessConfigs[0].NatIP, nil
}

func (c *GCECompute) FirewallPorts(ctx context.Context, name string) ([]string, bool, error) {
	firewall, err := c.service.Firewalls.Get(c.project, name).Context(ctx).Do()
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pkgerrors.Wrapf(err, "get firewall %s", name)
	}
	var ports []string
	for _, allowed := range firewall.Allowed {
		if allowed.IPProtocol == protocolTCP {
			ports = append(ports, allowed.Ports...)
		}
	}
	return ports, true, nil
}

func (c *GCECompute) CreateFirewall(ctx context.Context, name string, ports []string) error {
	firewall := &compute.Firewall{
		Name:         name,
		Network:      defaultNetwork,
		Priority:     firewallPriority,
		Direction:    "INGRESS",
		SourceRanges: []string{"0.0.0.0/0"},
		Allowed: []*compute.FirewallAllowed{
			{IPProtocol: protocolTCP, Ports: ports},
		},
		LogConfig: &compute.FirewallLogConfig{Enable: false},
	}
	if _, err := c.service.Firewalls.Insert(c.project, firewall).Context(ctx).Do(); err != nil {
		return pkgerrors.Wrapf(err, "insert firewall %s", name)
	}
	return nil
}

// SetFirewallPorts replaces the tcp allow-list and keeps the other protocols of the rule
func (c *GCECompute) SetFirewallPorts(ctx context.Context, name string, ports []string) error {
	firewall, err := c.service.Firewalls.Get(c.project, name).Context(ctx).Do()
	if err != nil {
		return pkgerrors.Wrapf(err, "get firewall %s", name)
	}
	allowed := make([]*compute.FirewallAllowed, 0, len(firewall.Allowed)+1)
	for _, a := range firewall.Allowed {
		if a.IPProtocol != protocolTCP {
			allowed = append(allowed, a)
		}
	}
	allowed = append(allowed, &compute.FirewallAllowed{IPProtocol: protocolTCP, Ports: ports})
	patch := &compute.Firewall{Allowed: allowed}
	if _, err = c.service.Firewalls.Patch(c.project, name, patch).Context(ctx).Do(); err != nil {
		return pkgerrors.Wrapf(err, "patch firewall %s", name)
	}
	return nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return err != nil && pkgerrors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
