package host

import (
	"context"

	"github.com/athrane/pineapple-sub012/pkg/accessor"
)

func newRegistry() *accessor.Registry {
	r := accessor.NewRegistry(Namespace)

	accessor.Register[*Host](r,
		accessor.Getter(Namespace, "getHostname", func(ctx context.Context, h *Host) (string, error) { return h.Hostname(ctx) }),
		accessor.Getter(Namespace, "getName", func(ctx context.Context, h *Host) (string, error) { return h.Hostname(ctx) }),
		accessor.Getter(Namespace, "getKernel", func(ctx context.Context, h *Host) (string, error) { return h.Kernel(ctx) }),
		accessor.Getter(Namespace, "getArchitecture", func(ctx context.Context, h *Host) (string, error) { return h.Architecture(ctx) }),
		accessor.Getter(Namespace, "getCpuCount", func(ctx context.Context, h *Host) (int, error) { return h.CPUCount(ctx) }),
		accessor.Getter(Namespace, "getMemoryTotalKb", func(ctx context.Context, h *Host) (int, error) { return h.MemoryTotalKB(ctx) }),
		accessor.Getter(Namespace, "getOs", func(ctx context.Context, h *Host) (*OSInfo, error) { return h.OS(ctx) }),
		accessor.Getter(Namespace, "getFiles", func(_ context.Context, h *Host) (*Files, error) {
			return h.Files(), nil
		}),
		accessor.Getter(Namespace, "getPackages", func(_ context.Context, h *Host) (*Packages, error) {
			return h.Packages(), nil
		}),
		accessor.Getter(Namespace, "getServices", func(_ context.Context, h *Host) (*Services, error) {
			return h.Services(), nil
		}),
		// exec runs an arbitrary command; it takes the command as argument
		// and is therefore never selected for attribute resolution.
		accessor.Method(Namespace, "exec", 1, accessor.KindScalar, func(ctx context.Context, h *Host, args ...any) (any, error) {
			return h.sess.Invoke(ctx, h, "exec", args...)
		}),
	)

	accessor.Register[*OSInfo](r,
		accessor.Getter(Namespace+".os", "getId", func(_ context.Context, o *OSInfo) (string, error) { return o.ID, nil }),
		accessor.Getter(Namespace+".os", "getName", func(_ context.Context, o *OSInfo) (string, error) { return o.Name, nil }),
		accessor.Getter(Namespace+".os", "getVersion", func(_ context.Context, o *OSInfo) (string, error) { return o.Version, nil }),
		accessor.Getter(Namespace+".os", "getIdLike", func(_ context.Context, o *OSInfo) ([]string, error) { return o.IDLike, nil }),
	)

	accessor.Register[*RemoteFile](r,
		accessor.Getter(Namespace+".file", "getPath", func(_ context.Context, f *RemoteFile) (string, error) { return f.Path, nil }),
		accessor.Getter(Namespace+".file", "getContent", func(ctx context.Context, f *RemoteFile) (string, error) { return f.Content(ctx) }),
		accessor.Getter(Namespace+".file", "getMode", func(_ context.Context, f *RemoteFile) (string, error) { return f.Mode(), nil }),
		accessor.Getter(Namespace+".file", "getOwner", func(ctx context.Context, f *RemoteFile) (string, error) { return f.Owner(ctx) }),
		accessor.Getter(Namespace+".file", "getChecksum", func(ctx context.Context, f *RemoteFile) (string, error) { return f.Checksum(ctx) }),
		accessor.Getter(Namespace+".file", "isExists", func(_ context.Context, f *RemoteFile) (bool, error) { return f.Exists(), nil }),
	)

	accessor.Register[*Package](r,
		accessor.Getter(Namespace+".package", "getName", func(_ context.Context, p *Package) (string, error) { return p.Name, nil }),
		accessor.Getter(Namespace+".package", "getVersion", func(_ context.Context, p *Package) (string, error) { return p.Version, nil }),
		accessor.Getter(Namespace+".package", "isInstalled", func(_ context.Context, p *Package) (bool, error) { return p.Installed, nil }),
	)

	accessor.Register[*Service](r,
		accessor.Getter(Namespace+".service", "getName", func(_ context.Context, s *Service) (string, error) { return s.Name, nil }),
		accessor.Getter(Namespace+".service", "isActive", func(ctx context.Context, s *Service) (bool, error) { return s.Active(ctx) }),
		accessor.Getter(Namespace+".service", "isEnabled", func(ctx context.Context, s *Service) (bool, error) { return s.Enabled(ctx) }),
	)

	return r
}
