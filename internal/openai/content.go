package openai

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const dataImagePrefix = "data:image/"

func TextMessage(role, text string) ChatMessage {
	encoded, _ := json.Marshal(text)
	return ChatMessage{Role: role, Content: encoded}
}

// TextContent flattens message content. String content is returned as is,
// block arrays contribute the text of every "text" block joined by newlines,
// and any other JSON value is returned as its raw encoding.
func (m ChatMessage) TextContent() string {
	if len(m.Content) == 0 {
		return ""
	}
	content := gjson.ParseBytes(m.Content)
	switch {
	case content.Type == gjson.Null:
		return ""
	case content.Type == gjson.String:
		return content.Str
	case content.IsArray():
		parts := make([]string, 0)
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() != "text" {
				return true
			}
			if text := block.Get("text"); text.Type == gjson.String {
				parts = append(parts, text.Str)
			}
			return true
		})
		return strings.Join(parts, "\n")
	default:
		return content.Raw
	}
}

type Image struct {
	Ext  string
	Data []byte
}

// Images decodes the base64 data URLs of image_url blocks. Non-data URLs are
// ignored; blocks whose payload fails to decode are reported in errs and
// skipped.
func (m ChatMessage) Images() (images []Image, errs []error) {
	if len(m.Content) == 0 {
		return nil, nil
	}
	content := gjson.ParseBytes(m.Content)
	if !content.IsArray() {
		return nil, nil
	}

	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() != "image_url" {
			return true
		}
		url := block.Get("image_url.url")
		if url.Type != gjson.String || !strings.HasPrefix(url.Str, dataImagePrefix) {
			return true
		}
		header, payload, ok := strings.Cut(url.Str, ",")
		if !ok {
			return true
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("decode base64 image: %w", err))
			return true
		}
		images = append(images, Image{Ext: imageExtension(header), Data: data})
		return true
	})
	return images, errs
}

func imageExtension(header string) string {
	switch {
	case strings.Contains(header, "png"):
		return "png"
	case strings.Contains(header, "jpeg"), strings.Contains(header, "jpg"):
		return "jpg"
	case strings.Contains(header, "gif"):
		return "gif"
	case strings.Contains(header, "webp"):
		return "webp"
	default:
		return "png"
	}
}
