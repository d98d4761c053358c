// Package plugin loads out-of-process capability plugins over
// hashicorp/go-plugin and exposes their functions as tools.
package plugin

import (
	"errors"
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// Handshake must match between host and plugin binaries.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "WORKBENCH_CAPABILITY_PLUGIN",
	MagicCookieValue: "workbench-capability-v1",
}

const dispenseName = "capability"

// PluginMap is the set of plugins the host can dispense.
var PluginMap = map[string]plugin.Plugin{
	dispenseName: &CapabilityPlugin{},
}

// FunctionSpec describes one function exported by a plugin. Parameters is a
// JSON Schema document encoded as a string so it crosses gob unchanged.
type FunctionSpec struct {
	Name        string
	Description string
	Parameters  string
}

// Capability is implemented by plugin binaries.
type Capability interface {
	Describe() ([]FunctionSpec, error)
	Invoke(name string, args []byte) (string, error)
}

// Serve runs impl as a plugin process. It is called from a plugin's main.
func Serve(impl Capability) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			dispenseName: &CapabilityPlugin{Impl: impl},
		},
	})
}

// CapabilityPlugin is the plugin.Plugin implementation for net/rpc.
type CapabilityPlugin struct {
	Impl Capability
}

func (p *CapabilityPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (p *CapabilityPlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// RPCServer runs inside the plugin process.
type RPCServer struct {
	Impl Capability
}

type DescribeResp struct {
	Functions []FunctionSpec
	Error     string
}

func (s *RPCServer) Describe(_ string, resp *DescribeResp) error {
	fns, err := s.Impl.Describe()
	resp.Functions = fns
	if err != nil {
		resp.Error = err.Error()
	}
	return nil
}

type InvokeArgs struct {
	Name string
	Args []byte
}

type InvokeResp struct {
	Output string
	Error  string
}

func (s *RPCServer) Invoke(args InvokeArgs, resp *InvokeResp) error {
	out, err := s.Impl.Invoke(args.Name, args.Args)
	resp.Output = out
	if err != nil {
		resp.Error = err.Error()
	}
	return nil
}

// RPCClient is the host side of a plugin connection.
type RPCClient struct {
	client *rpc.Client
}

func (c *RPCClient) Describe() ([]FunctionSpec, error) {
	var resp DescribeResp
	if err := c.client.Call("Plugin.Describe", "", &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Functions, nil
}

func (c *RPCClient) Invoke(name string, args []byte) (string, error) {
	var resp InvokeResp
	if err := c.client.Call("Plugin.Invoke", InvokeArgs{Name: name, Args: args}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	return resp.Output, nil
}
