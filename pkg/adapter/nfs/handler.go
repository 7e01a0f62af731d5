package nfs

import (
	"context"
	"net"
	"time"

	billy "github.com/go-git/go-billy/v5"
	nfs "github.com/willscott/go-nfs"

	"github.com/marmos91/plevy/internal/logger"
	"github.com/marmos91/plevy/pkg/projection"
	"github.com/marmos91/plevy/pkg/registry"
)

// trackingHandler wraps the go-nfs handler chain to record client mounts in
// the registry and to report entry counts in FSSTAT.
type trackingHandler struct {
	nfs.Handler

	ctx      context.Context
	fs       *projection.Filesystem
	registry *registry.Registry
}

func (h *trackingHandler) Mount(ctx context.Context, conn net.Conn, req nfs.MountRequest) (nfs.MountStatus, billy.Filesystem, []nfs.AuthFlavor) {
	status, fs, auth := h.Handler.Mount(ctx, conn, req)
	if status == nfs.MountStatusOk {
		addr := conn.RemoteAddr().String()
		h.registry.RecordMount(protocolName, addr, time.Now().Unix())
		logger.Info("NFS client %s mounted %q", addr, string(req.Dirpath))
	}
	return status, fs, auth
}

func (h *trackingHandler) FSStat(ctx context.Context, fs billy.Filesystem, stat *nfs.FSStat) error {
	files, err := h.fs.StatFS(h.ctx)
	if err != nil {
		return err
	}
	stat.TotalFiles = files
	stat.FreeFiles = 0
	stat.AvailableFiles = 0
	return nil
}
