package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/ory/dockertest/v3/docker"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeAPI struct {
	volumes  map[string]bool
	images   map[string]bool
	pulled   []docker.PullImageOptions
	created  []docker.CreateContainerOptions
	started  []string
	removed  []string
	startErr error
	archive  string
}

func (f *fakeAPI) InspectVolume(name string) (*docker.Volume, error) {
	if !f.volumes[name] {
		return nil, docker.ErrNoSuchVolume
	}
	return &docker.Volume{Name: name}, nil
}

func (f *fakeAPI) InspectImage(name string) (*docker.Image, error) {
	if !f.images[name] {
		return nil, docker.ErrNoSuchImage
	}
	return &docker.Image{ID: name}, nil
}

func (f *fakeAPI) PullImage(opts docker.PullImageOptions, _ docker.AuthConfiguration) error {
	f.pulled = append(f.pulled, opts)
	return nil
}

func (f *fakeAPI) CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error) {
	f.created = append(f.created, opts)
	return &docker.Container{ID: "c1"}, nil
}

func (f *fakeAPI) StartContainerWithContext(id string, _ *docker.HostConfig, _ context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeAPI) DownloadFromContainer(_ string, opts docker.DownloadFromContainerOptions) error {
	_, err := io.Copy(opts.OutputStream, strings.NewReader(f.archive+opts.Path))
	return err
}

func (f *fakeAPI) RemoveContainer(opts docker.RemoveContainerOptions) error {
	f.removed = append(f.removed, opts.ID)
	return nil
}

func (f *fakeAPI) PingWithContext(context.Context) error { return nil }

func TestDocker(t *testing.T) {
	Convey("Given a Docker runtime", t, func() {
		api := &fakeAPI{volumes: map[string]bool{"pgdata": true}, images: map[string]bool{}, archive: "tar:"}
		d := New(api, "")
		ctx := context.Background()

		Convey("VolumeExists should map missing volumes to false", func() {
			ok, err := d.VolumeExists(ctx, "pgdata")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			ok, err = d.VolumeExists(ctx, "ghost")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("StartHelper should pull the image and mount read-only", func() {
			id, err := d.StartHelper(ctx, "pgdata")

			So(err, ShouldBeNil)
			So(id, ShouldEqual, "c1")
			So(api.pulled, ShouldHaveLength, 1)
			So(api.pulled[0].Repository, ShouldEqual, "alpine")
			So(api.pulled[0].Tag, ShouldEqual, "latest")
			So(api.created[0].HostConfig.Binds, ShouldResemble, []string{"pgdata:/data:ro"})
			So(api.created[0].Config.Cmd, ShouldResemble, []string{"sleep", "3600"})
			So(api.started, ShouldResemble, []string{"c1"})
		})

		Convey("StartHelper should skip the pull when the image is present", func() {
			api.images["alpine:latest"] = true
			_, err := d.StartHelper(ctx, "pgdata")
			So(err, ShouldBeNil)
			So(api.pulled, ShouldBeEmpty)
		})

		Convey("A failed start should remove the container", func() {
			api.startErr = errors.New("no space left on device")
			_, err := d.StartHelper(ctx, "pgdata")
			So(err, ShouldNotBeNil)
			So(api.removed, ShouldResemble, []string{"c1"})
		})

		Convey("ExportPath should stream the archive", func() {
			var buf bytes.Buffer
			So(d.ExportPath(ctx, "c1", "/data", &buf), ShouldBeNil)
			So(buf.String(), ShouldEqual, "tar:/data")
		})

		Convey("splitImage should handle tags and registries", func() {
			repo, tag := splitImage("registry.local:5000/tools/alpine")
			So(repo, ShouldEqual, "registry.local:5000/tools/alpine")
			So(tag, ShouldEqual, "latest")

			repo, tag = splitImage("alpine:3.20")
			So(repo, ShouldEqual, "alpine")
			So(tag, ShouldEqual, "3.20")
		})
	})
}
