package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLocalStorage(t *testing.T) {
	Convey("Given a LocalStorage", t, func() {
		tempDir, err := os.MkdirTemp("", "local_storage_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(tempDir)

		archiveDir := filepath.Join(tempDir, "archive")
		ctx := context.Background()

		Convey("NewLocal", func() {
			Convey("When creating with a nested path", func() {
				storage, err := NewLocal(filepath.Join(archiveDir, "nested"))

				Convey("It should create the directory", func() {
					So(err, ShouldBeNil)
					So(storage.Name(), ShouldEqual, "local:"+filepath.Join(archiveDir, "nested"))

					info, err := os.Stat(filepath.Join(archiveDir, "nested"))
					So(err, ShouldBeNil)
					So(info.IsDir(), ShouldBeTrue)
				})
			})

			Convey("When the path is empty", func() {
				_, err := NewLocal("")

				Convey("It should fail", func() {
					So(err, ShouldNotBeNil)
				})
			})
		})

		Convey("Upload method", func() {
			storage, err := NewLocal(archiveDir)
			So(err, ShouldBeNil)

			Convey("When uploading an artifact", func() {
				sourceFile := filepath.Join(tempDir, "orders_postgresql_20250314_020005.tar.gz")
				So(os.WriteFile(sourceFile, []byte("archive bytes"), 0644), ShouldBeNil)

				err := storage.Upload(ctx, sourceFile, "orders_postgresql_20250314_020005.tar.gz")

				Convey("It should copy it under its remote name only", func() {
					So(err, ShouldBeNil)

					content, err := os.ReadFile(filepath.Join(archiveDir, "orders_postgresql_20250314_020005.tar.gz"))
					So(err, ShouldBeNil)
					So(string(content), ShouldEqual, "archive bytes")

					files, err := storage.List(ctx)
					So(err, ShouldBeNil)
					So(files, ShouldResemble, []string{"orders_postgresql_20250314_020005.tar.gz"})
				})
			})

			Convey("When the source does not exist", func() {
				err := storage.Upload(ctx, filepath.Join(tempDir, "nonexistent.sql"), "x.sql")

				Convey("It should return an error", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "failed to open source")
				})
			})
		})

		Convey("List method", func() {
			storage, err := NewLocal(archiveDir)
			So(err, ShouldBeNil)

			Convey("When the directory has files, folders and partial uploads", func() {
				os.WriteFile(filepath.Join(archiveDir, "b.sql"), []byte("test"), 0644)
				os.WriteFile(filepath.Join(archiveDir, "a.tar.gz"), []byte("test"), 0644)
				os.WriteFile(filepath.Join(archiveDir, ".upload-123"), []byte("partial"), 0644)
				os.Mkdir(filepath.Join(archiveDir, "subdir"), 0755)

				files, err := storage.List(ctx)

				Convey("It should list only finished files in order", func() {
					So(err, ShouldBeNil)
					So(files, ShouldResemble, []string{"a.tar.gz", "b.sql"})
				})
			})

			Convey("When the directory is empty", func() {
				files, err := storage.List(ctx)

				Convey("It should return an empty list", func() {
					So(err, ShouldBeNil)
					So(files, ShouldBeEmpty)
				})
			})
		})

		Convey("Delete method", func() {
			storage, err := NewLocal(archiveDir)
			So(err, ShouldBeNil)

			Convey("When deleting an existing file", func() {
				os.WriteFile(filepath.Join(archiveDir, "delete_me.sql"), []byte("test"), 0644)

				err := storage.Delete(ctx, "delete_me.sql")

				Convey("It should delete it", func() {
					So(err, ShouldBeNil)
					_, err := os.Stat(filepath.Join(archiveDir, "delete_me.sql"))
					So(os.IsNotExist(err), ShouldBeTrue)
				})
			})

			Convey("When deleting a non-existent file", func() {
				err := storage.Delete(ctx, "nonexistent.sql")

				Convey("It should return an error", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "failed to delete file")
				})
			})
		})

		Convey("GetOldFiles method", func() {
			storage, err := NewLocal(archiveDir)
			So(err, ShouldBeNil)

			Convey("When the archive holds old and new files", func() {
				oldFile := filepath.Join(archiveDir, "old.tar.gz")
				os.WriteFile(oldFile, []byte("test"), 0644)
				oldTime := time.Now().Add(-10 * 24 * time.Hour)
				os.Chtimes(oldFile, oldTime, oldTime)

				os.WriteFile(filepath.Join(archiveDir, "new.tar.gz"), []byte("test"), 0644)

				oldFiles, err := storage.GetOldFiles(ctx, time.Now().Add(-7*24*time.Hour))

				Convey("It should return only the old ones", func() {
					So(err, ShouldBeNil)
					So(oldFiles, ShouldResemble, []string{"old.tar.gz"})
				})
			})
		})

		Convey("GetPath method", func() {
			storage, err := NewLocal(archiveDir)
			So(err, ShouldBeNil)

			Convey("It should stay inside the archive directory", func() {
				So(storage.GetPath("test.sql"), ShouldEqual, filepath.Join(archiveDir, "test.sql"))
				So(storage.GetPath("../../etc/passwd"), ShouldEqual, filepath.Join(archiveDir, "passwd"))
			})
		})
	})
}
