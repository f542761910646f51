package builtin

import (
	"context"
	"fmt"
	"os"

	"github.com/haasonsaas/rapport/internal/media"
	"github.com/haasonsaas/rapport/internal/tools"
)

// DescribeImage reports what is technically knowable about an image
// payload: format, dimensions, and size. The invoker materializes the
// payload reference to a temp file before this tool runs, so args carry
// {path, media_type, source}.
type DescribeImage struct{}

func (DescribeImage) Name() string { return "describe_image" }
func (DescribeImage) Description() string { return "Describes an image payload (format, dimensions, size)." }
func (DescribeImage) Usage() string {
	return `{"payload": "https://... or base64 or data URI"}`
}
func (DescribeImage) Modalities() []string { return []string{tools.ModalityImage} }
func (DescribeImage) Version() string { return "1.0.0" }
func (DescribeImage) MinCompatible() string { return "1.0.0" }
func (DescribeImage) Deprecated() (bool, string) { return false, "" }

func (DescribeImage) Triggers(text string) bool {
	return matchesAny(text, []string{"describe this image", "what is in this image", "look at this picture"})
}

func (DescribeImage) Invoke(ctx context.Context, args map[string]any) (string, error) {
	path := tools.StringArg(args, "path")
	if path == "" {
		return "", fmt.Errorf("no image payload was provided")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("image artifact unavailable: %w", err)
	}
	probe, err := media.ProbeImage(path)
	if err != nil {
		mediaType := tools.StringArg(args, "media_type")
		return fmt.Sprintf("a %s payload of %d bytes (not decodable as an image)", mediaType, info.Size()), nil
	}
	return fmt.Sprintf("a %s image, %dx%d pixels, %d bytes", probe.Format, probe.Width, probe.Height, info.Size()), nil
}
