package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(ServiceName+"."+method, req, resp)
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WatcherStatus retrieves the mirrored watcher status.
func (c *Client) WatcherStatus() (*WatcherStatusResponse, error) {
	var resp WatcherStatusResponse
	if err := c.call("WatcherStatus", WatcherStatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WatcherStart starts the watcher worker.
func (c *Client) WatcherStart() (*WatcherStartResponse, error) {
	var resp WatcherStartResponse
	if err := c.call("WatcherStart", WatcherStartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WatcherStop stops the watcher worker.
func (c *Client) WatcherStop() (*WatcherStopResponse, error) {
	var resp WatcherStopResponse
	if err := c.call("WatcherStop", WatcherStopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryPackages resumes packages by id.
func (c *Client) RetryPackages(ids []string) (*RetryPackagesResponse, error) {
	var resp RetryPackagesResponse
	if err := c.call("RetryPackages", RetryPackagesRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadPackages forces an upload of packages to platform.
func (c *Client) UploadPackages(ids []string, platform string) (*UploadPackagesResponse, error) {
	var resp UploadPackagesResponse
	if err := c.call("UploadPackages", UploadPackagesRequest{IDs: ids, Platform: platform}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PackageList returns packages matching req.
func (c *Client) PackageList(req PackageListRequest) (*PackageListResponse, error) {
	var resp PackageListResponse
	if err := c.call("PackageList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PackageDescribe returns details for a single package.
func (c *Client) PackageDescribe(id string) (*PackageDescribeResponse, error) {
	var resp PackageDescribeResponse
	if err := c.call("PackageDescribe", PackageDescribeRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PackageRemove removes a package with its remote media.
func (c *Client) PackageRemove(id string) (*PackageRemoveResponse, error) {
	var resp PackageRemoveResponse
	if err := c.call("PackageRemove", PackageRemoveRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PackagePublish publishes or unpublishes a package.
func (c *Client) PackagePublish(id string, publish bool) (*PackagePublishResponse, error) {
	var resp PackagePublishResponse
	if err := c.call("PackagePublish", PackagePublishRequest{ID: id, Publish: publish}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
