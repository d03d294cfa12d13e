package fidex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/fidex/interact"
	"github.com/hazyhaar/fidex/inventory"
	"github.com/hazyhaar/fidex/session"
)

// Surface resolves the document to inventory once the page has loaded.
// contexts tracks the default execution context of every frame.
type Surface func(ctx context.Context, s session.Session, contexts *session.Contexts) (inventory.Document, error)

// TopLevel uses the page's own document.
func TopLevel() Surface {
	return func(_ context.Context, s session.Session, _ *session.Contexts) (inventory.Document, error) {
		return inventory.NewCDPDocument(s, inventory.CDPOptions{}), nil
	}
}

// FramePattern uses the first non-main frame whose URL contains pattern, as
// archive viewers replay a capture inside an iframe. The frame and its
// execution context are polled for until they appear.
func FramePattern(pattern string, poll interact.Poll, log *slog.Logger) Surface {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, s session.Session, contexts *session.Contexts) (inventory.Document, error) {
		frame, err := interact.Resolve(ctx, poll, func(ctx context.Context) (proto.PageFrameID, error) {
			id, err := findFrame(ctx, s, pattern)
			if err != nil {
				return "", err
			}
			if _, ok := contexts.Get(id); !ok {
				return "", fmt.Errorf("fidex: frame %s has no execution context yet", id)
			}
			return id, nil
		})
		if err != nil {
			return nil, err
		}
		log.Debug("fidex: using frame surface", "frame", frame, "pattern", pattern)
		return inventory.NewCDPDocument(s, inventory.CDPOptions{
			Frame:    frame,
			Contexts: contexts,
			Logger:   log,
		}), nil
	}
}

func findFrame(ctx context.Context, s session.Session, pattern string) (proto.PageFrameID, error) {
	res, err := proto.PageGetFrameTree{}.Call(session.WithContext(s, ctx))
	if err != nil {
		return "", fmt.Errorf("fidex: Page.getFrameTree: %w", err)
	}
	if res.FrameTree != nil {
		if id, ok := searchFrames(res.FrameTree.ChildFrames, pattern); ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("fidex: no frame matching %q", pattern)
}

func searchFrames(trees []*proto.PageFrameTree, pattern string) (proto.PageFrameID, bool) {
	for _, t := range trees {
		if t.Frame != nil && strings.Contains(t.Frame.URL, pattern) {
			return t.Frame.ID, true
		}
		if id, ok := searchFrames(t.ChildFrames, pattern); ok {
			return id, true
		}
	}
	return "", false
}
