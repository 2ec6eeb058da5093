package core_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/automoto/kartsync/master"
	"github.com/automoto/kartsync/server/core"
)

func TestRegistrationListsServer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := master.NewRegistry(time.Minute, quietLogger())
	hs := httptest.NewServer(master.NewRouter(reg, quietLogger()))
	defer hs.Close()

	r := core.NewRegistration(hs.URL, "Track", "10.0.0.1:5029", "1.10.4", "eu", 8, func() int { return 2 }, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(5 * time.Second)
	for r.ID() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	servers := reg.List()
	if len(servers) != 1 || servers[0].ID != r.ID() || servers[0].Players != 2 || servers[0].Region != "eu" {
		t.Fatalf("listing = %+v, id %q", servers, r.ID())
	}
}
