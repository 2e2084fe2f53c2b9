package sim

import (
	"bytes"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type namedDomain struct {
	*HookableBase
}

func (namedDomain) Name() string {
	return "Dispatcher"
}

var _ = Describe("LogHook", func() {
	var (
		out    *bytes.Buffer
		domain namedDomain
		pos    = &HookPos{Name: "Before Trap"}
	)

	BeforeEach(func() {
		out = &bytes.Buffer{}
		domain = namedDomain{NewHookableBase()}
	})

	It("should log the event", func() {
		logger := slog.New(slog.NewTextHandler(out,
			&slog.HandlerOptions{Level: slog.LevelDebug}))
		domain.AcceptHook(NewLogHook(logger, slog.LevelDebug))

		domain.InvokeHook(HookCtx{Domain: domain, Pos: pos, Item: 42})

		Expect(out.String()).To(ContainSubstring(`msg="Before Trap"`))
		Expect(out.String()).To(ContainSubstring("domain=Dispatcher"))
		Expect(out.String()).To(ContainSubstring("item=42"))
		Expect(out.String()).NotTo(ContainSubstring("detail"))
	})

	It("should stay quiet below the logger level", func() {
		logger := slog.New(slog.NewTextHandler(out, nil))
		domain.AcceptHook(NewLogHook(logger, slog.LevelDebug))

		domain.InvokeHook(HookCtx{Domain: domain, Pos: pos})

		Expect(out.Len()).To(BeZero())
	})
})
