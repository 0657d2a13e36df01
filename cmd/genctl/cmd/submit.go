package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuongbtq/vidgen/internal/api/generation"
	"github.com/cuongbtq/vidgen/internal/poller"
	"github.com/spf13/cobra"
)

type submitOptions struct {
	mode         string
	prompt       string
	image        string
	video        string
	styleSource  string
	clips        []string
	script       string
	avatarStyle  string
	editingStyle string
	watch        bool
	outDir       string
}

func newSubmitCmd(a *app) *cobra.Command {
	o := &submitOptions{}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a generation request",
		Long:  `Submit a generation request. With --watch the job is followed until its output is saved.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, files, err := o.form()
			if err != nil {
				return err
			}

			p := a.newPoller(poller.WithObserver(&progressPrinter{out: cmd.ErrOrStderr()}))
			jobID, err := p.Submit(cmd.Context(), fields, files)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job submitted: %s\n", jobID)

			if !o.watch {
				return nil
			}
			return a.follow(cmd, p, jobID, o.outDir)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.mode, "mode", string(generation.ModeTextToVideo), "generation mode: text-to-video, image-to-video, video-to-video, avatar, auto-edit")
	f.StringVar(&o.prompt, "prompt", "", "text prompt")
	f.StringVar(&o.image, "image", "", "reference image file")
	f.StringVar(&o.video, "video", "", "source video file")
	f.StringVar(&o.styleSource, "style-source", "", "style source file for video-to-video")
	f.StringSliceVar(&o.clips, "clip", nil, "video clip for auto-edit (repeatable)")
	f.StringVar(&o.script, "script", "", "avatar script")
	f.StringVar(&o.avatarStyle, "avatar-style", "", "avatar style")
	f.StringVar(&o.editingStyle, "editing-style", "", "auto-edit editing style")
	f.BoolVar(&o.watch, "watch", false, "follow the job until it finishes")
	f.StringVar(&o.outDir, "out", ".", "directory for the downloaded output")
	return cmd
}

// form builds the multipart fields; required fields are checked by the server
func (o *submitOptions) form() (map[string]string, []poller.Upload, error) {
	fields := map[string]string{generation.FieldMode: o.mode}
	set := func(name, value string) {
		if value != "" {
			fields[name] = value
		}
	}
	set(generation.FieldPrompt, o.prompt)
	set(generation.FieldScript, o.script)
	set(generation.FieldAvatarStyle, o.avatarStyle)
	set(generation.FieldEditingStyle, o.editingStyle)

	var files []poller.Upload
	attach := func(field, path string) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		files = append(files, poller.Upload{Field: field, Filename: filepath.Base(path), Data: data})
		return nil
	}

	if err := attach(generation.FieldReferenceImage, o.image); err != nil {
		return nil, nil, err
	}
	if err := attach(generation.FieldVideo, o.video); err != nil {
		return nil, nil, err
	}
	if err := attach(generation.FieldStyleSource, o.styleSource); err != nil {
		return nil, nil, err
	}
	for _, clip := range o.clips {
		if err := attach(generation.FieldVideoClips, clip); err != nil {
			return nil, nil, err
		}
	}
	return fields, files, nil
}
