package generation

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
)

// Mode discriminates the kind of generation a caller asks for
type Mode string

const (
	ModeTextToVideo  Mode = "text-to-video"
	ModeImageToVideo Mode = "image-to-video"
	ModeVideoToVideo Mode = "video-to-video"
	ModeAvatar       Mode = "avatar"
	ModeAutoEdit     Mode = "auto-edit"
)

// Form field names shared with the web client and the render backend
const (
	FieldMode           = "generationMode"
	FieldPrompt         = "Prompt"
	FieldReferenceImage = "reference_image"
	FieldVideo          = "video"
	FieldStyleSource    = "style_source_file"
	FieldVideoClips     = "video_clips"
	FieldScript         = "script"
	FieldAvatarStyle    = "avatar_style"
	FieldEditingStyle   = "editing_style"
)

// ErrInvalidRequest marks a submission that cannot be dispatched
var ErrInvalidRequest = errors.New("invalid generation request")

// File is an uploaded attachment held in memory
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Request is one of TextToVideo, ImageToVideo, VideoToVideo, Avatar or
// AutoEdit. Each variant carries only the fields its mode uses.
type Request interface {
	Mode() Mode
	Validate() error
	// Encode writes the variant's prompt and attachments
	Encode(w *multipart.Writer) error
}

type TextToVideo struct {
	Prompt string
}

type ImageToVideo struct {
	Prompt         string
	ReferenceImage File
}

type VideoToVideo struct {
	Prompt      string
	Video       File
	StyleSource *File
}

type Avatar struct {
	Script         string
	AvatarStyle    string
	ReferenceImage *File
}

type AutoEdit struct {
	Prompt       string
	EditingStyle string
	Clips        []File
}

func (TextToVideo) Mode() Mode  { return ModeTextToVideo }
func (ImageToVideo) Mode() Mode { return ModeImageToVideo }
func (VideoToVideo) Mode() Mode { return ModeVideoToVideo }
func (Avatar) Mode() Mode       { return ModeAvatar }
func (AutoEdit) Mode() Mode     { return ModeAutoEdit }

func (r TextToVideo) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return missing(r.Mode(), FieldPrompt)
	}
	return nil
}

func (r ImageToVideo) Validate() error {
	if len(r.ReferenceImage.Data) == 0 {
		return missing(r.Mode(), FieldReferenceImage)
	}
	return nil
}

func (r VideoToVideo) Validate() error {
	if len(r.Video.Data) == 0 {
		return missing(r.Mode(), FieldVideo)
	}
	return nil
}

func (r Avatar) Validate() error {
	if strings.TrimSpace(r.Script) == "" {
		return missing(r.Mode(), FieldScript)
	}
	return nil
}

func (r AutoEdit) Validate() error {
	if len(r.Clips) == 0 {
		return missing(r.Mode(), FieldVideoClips)
	}
	for _, clip := range r.Clips {
		if len(clip.Data) == 0 {
			return fmt.Errorf("%w: %s clip %q is empty", ErrInvalidRequest, r.Mode(), clip.Filename)
		}
	}
	return nil
}

func (r TextToVideo) Encode(w *multipart.Writer) error {
	return w.WriteField(FieldPrompt, r.Prompt)
}

func (r ImageToVideo) Encode(w *multipart.Writer) error {
	if err := w.WriteField(FieldPrompt, r.Prompt); err != nil {
		return err
	}
	return writeFile(w, FieldReferenceImage, r.ReferenceImage)
}

func (r VideoToVideo) Encode(w *multipart.Writer) error {
	if err := w.WriteField(FieldPrompt, r.Prompt); err != nil {
		return err
	}
	if err := writeFile(w, FieldVideo, r.Video); err != nil {
		return err
	}
	if r.StyleSource != nil {
		return writeFile(w, FieldStyleSource, *r.StyleSource)
	}
	return nil
}

// Encode folds the style into the prompt the backend sees
func (r Avatar) Encode(w *multipart.Writer) error {
	prompt := "Script: " + r.Script
	if r.AvatarStyle != "" {
		prompt = "Avatar style: " + r.AvatarStyle + ". " + prompt
	}
	if err := w.WriteField(FieldPrompt, prompt); err != nil {
		return err
	}
	if err := w.WriteField(FieldScript, r.Script); err != nil {
		return err
	}
	if r.AvatarStyle != "" {
		if err := w.WriteField(FieldAvatarStyle, r.AvatarStyle); err != nil {
			return err
		}
	}
	if r.ReferenceImage != nil {
		return writeFile(w, FieldReferenceImage, *r.ReferenceImage)
	}
	return nil
}

func (r AutoEdit) Encode(w *multipart.Writer) error {
	prompt := r.Prompt
	if r.EditingStyle != "" {
		prompt = strings.TrimSpace("Editing style: " + r.EditingStyle + ". " + prompt)
		if err := w.WriteField(FieldEditingStyle, r.EditingStyle); err != nil {
			return err
		}
	}
	if err := w.WriteField(FieldPrompt, prompt); err != nil {
		return err
	}
	for _, clip := range r.Clips {
		if err := writeFile(w, FieldVideoClips, clip); err != nil {
			return err
		}
	}
	return nil
}

func missing(mode Mode, field string) error {
	return fmt.Errorf("%w: %s requires %s", ErrInvalidRequest, mode, field)
}

// Parse builds the variant selected by the generationMode field. A missing
// discriminator means text-to-video.
func Parse(form *multipart.Form) (Request, error) {
	if form == nil {
		return nil, fmt.Errorf("%w: empty form", ErrInvalidRequest)
	}

	mode := Mode(strings.TrimSpace(value(form, FieldMode)))
	if mode == "" {
		mode = ModeTextToVideo
	}
	prompt := strings.TrimSpace(value(form, FieldPrompt))

	var req Request
	switch mode {
	case ModeTextToVideo:
		req = TextToVideo{Prompt: prompt}

	case ModeImageToVideo:
		img, err := optionalFile(form, FieldReferenceImage)
		if err != nil {
			return nil, err
		}
		r := ImageToVideo{Prompt: prompt}
		if img != nil {
			r.ReferenceImage = *img
		}
		req = r

	case ModeVideoToVideo:
		video, err := optionalFile(form, FieldVideo)
		if err != nil {
			return nil, err
		}
		style, err := optionalFile(form, FieldStyleSource)
		if err != nil {
			return nil, err
		}
		r := VideoToVideo{Prompt: prompt, StyleSource: style}
		if video != nil {
			r.Video = *video
		}
		req = r

	case ModeAvatar:
		img, err := optionalFile(form, FieldReferenceImage)
		if err != nil {
			return nil, err
		}
		req = Avatar{
			Script:         strings.TrimSpace(value(form, FieldScript)),
			AvatarStyle:    strings.TrimSpace(value(form, FieldAvatarStyle)),
			ReferenceImage: img,
		}

	case ModeAutoEdit:
		headers := append(form.File[FieldVideoClips], form.File[FieldVideoClips+"[]"]...)
		clips := make([]File, 0, len(headers))
		for _, fh := range headers {
			clip, err := readFile(fh)
			if err != nil {
				return nil, err
			}
			clips = append(clips, *clip)
		}
		req = AutoEdit{
			Prompt:       prompt,
			EditingStyle: strings.TrimSpace(value(form, FieldEditingStyle)),
			Clips:        clips,
		}

	default:
		return nil, fmt.Errorf("%w: unknown %s %q", ErrInvalidRequest, FieldMode, mode)
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func value(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func optionalFile(form *multipart.Form, key string) (*File, error) {
	headers := form.File[key]
	if len(headers) == 0 {
		return nil, nil
	}
	return readFile(headers[0])
}

// readFile copies an upload into memory; the multipart temp files are
// removed once the submitting request returns
func readFile(fh *multipart.FileHeader) (*File, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidRequest, fh.Filename, err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidRequest, fh.Filename, err)
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &File{Filename: fh.Filename, ContentType: contentType, Data: data}, nil
}
