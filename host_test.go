package edgehost_test

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/govoltron/matrix"
	"github.com/relaycore/edgehost"
	"github.com/relaycore/edgehost/builtin/client/http"
	"github.com/relaycore/edgehost/service/example"
)

var (
	ip   http.Client
	ctx  = context.Background()
	host = edgehost.New(ctx)
)

func init() {
	edgehost.ClientVarP(&ip, &http.ClientOptions{
		SevName:    "ip",
		Endpoints:  []matrix.Endpoint{{Addr: "114.116.209.130:8099", Weight: 100}},
		Scheme:     "http",
		Host:       "open.17paipai.cn",
		Timeout:    3000,
		RetryCount: 0,
	}, "ip")
	// edgehost.ClientVarP(&ip, edgehost.Discovery("ip"), "ip")
}

func TestHost_Run(t *testing.T) {
	kvs, err := matrix.NewEtcdStore(ctx, []string{"127.0.0.1:2379"})
	if err != nil {
		t.Errorf("NewEtcdStore failed, error is %s", err.Error())
		return
	}
	cluster, err := matrix.NewCluster(ctx, "cu4k6mg398qd", kvs)
	if err != nil {
		t.Errorf("NewCluster failed, error is %s", err.Error())
		return
	}
	host.Join(cluster)

	host.Setup(example.New(), "example service")
	host.Setup(edgehost.ServiceFunc(func(ctx context.Context) {
		resp, err1 := ip.Get("/_ip/", nil)
		if err1 != nil {
			fmt.Printf("e1: %s\n", err1.Error())
		} else {
			buf, err2 := io.ReadAll(resp.Body)
			if err2 != nil {
				fmt.Printf("e2: %s\n", err2.Error())
			} else {
				fmt.Printf("resp: %s\n", string(buf))
			}
		}
	}), "test run function")

	if err := host.Run(ctx); err != nil {
		t.Errorf("%s", err.Error())
	}

	host.Print()
}
