package cms

import (
	"io"
	"mime"
	"path"
	"strconv"
	"time"

	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/webkontor/sitecms/core/logger"
)

// uploads larger than this are rejected
const maxUploadSize = 32 * 1024 * 1024

// createUploadRoutes adds the image upload boundary. An uploaded file
// is stored under a time-addressed name preserving the original
// extension; the returned retrieval path is what callers store into
// image_url fields. The core treats that path as an opaque string.
func (b *Backend) createUploadRoutes(router *mux.Router) {
	logger.Default().Debugln("  handle upload routes: /uploads POST, /uploads/{key} GET")

	router.HandleFunc("/uploads", func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		if !authorizeAdmin(w, r) {
			return
		}

		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			rlog.WithError(err).Errorln("Error 4130: cannot read upload")
			http.Error(w, "Error 4130", http.StatusInternalServerError)
			return
		}

		key := strconv.FormatInt(time.Now().UTC().UnixNano(), 10) + path.Ext(header.Filename)
		if err := b.uploads.Store(key, data); err != nil {
			rlog.WithError(err).Errorf("Error 4131: cannot store upload '%s'", key)
			http.Error(w, "Error 4131", http.StatusInternalServerError)
			return
		}

		rlog.Infof("stored upload '%s' (%d bytes)", key, len(data))
		jsonData, _ := json.Marshal(map[string]string{"url": "/uploads/" + key})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write(jsonData)
	}).Methods(http.MethodPost)

	router.HandleFunc("/uploads/{key}", func(w http.ResponseWriter, r *http.Request) {
		key := mux.Vars(r)["key"]

		reader, err := b.uploads.Open(key)
		if err != nil {
			http.Error(w, "no such upload", http.StatusNotFound)
			return
		}
		defer reader.Close()

		if contentType := mime.TypeByExtension(path.Ext(key)); contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		io.Copy(w, reader)
	}).Methods(http.MethodGet)
}
