package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kalambet/dreamsynth/internal/transcribe"
)

const (
	maxAudioSize   = 25 << 20 // 25MB
	maxUploadSize  = maxAudioSize + 1<<20
	audioField     = "audio"
	recordingField = "recording"
)

var allowedAudioExt = map[string]bool{
	".wav": true,
	".mp3": true,
	".m4a": true,
}

// uploadError is a client error while reading the audio upload.
type uploadError struct {
	Status  int
	Message string
}

func (e *uploadError) Error() string { return e.Message }

// readAudio extracts the clip from a multipart form: an uploaded file in the
// "audio" field (wav, mp3 or m4a, checked by extension only) or a browser
// recording in the "recording" field. The clip is kept in memory.
func readAudio(w http.ResponseWriter, r *http.Request) (transcribe.Audio, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return transcribe.Audio{}, &uploadError{Status: http.StatusRequestEntityTooLarge, Message: "le fichier audio dépasse 25 Mo"}
		}
		return transcribe.Audio{}, &uploadError{Status: http.StatusBadRequest, Message: fmt.Sprintf("formulaire invalide : %v", err)}
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile(audioField)
	if errors.Is(err, http.ErrMissingFile) {
		file, hdr, err = r.FormFile(recordingField)
		if errors.Is(err, http.ErrMissingFile) {
			return transcribe.Audio{}, &uploadError{Status: http.StatusBadRequest, Message: "aucun fichier audio reçu"}
		}
		if err != nil {
			return transcribe.Audio{}, &uploadError{Status: http.StatusBadRequest, Message: fmt.Sprintf("enregistrement illisible : %v", err)}
		}
	} else if err != nil {
		return transcribe.Audio{}, &uploadError{Status: http.StatusBadRequest, Message: fmt.Sprintf("fichier illisible : %v", err)}
	} else if ext := strings.ToLower(filepath.Ext(hdr.Filename)); !allowedAudioExt[ext] {
		file.Close()
		return transcribe.Audio{}, &uploadError{Status: http.StatusUnsupportedMediaType, Message: "format non pris en charge : utilisez un fichier .wav, .mp3 ou .m4a"}
	}
	defer file.Close()

	return readClip(file, hdr)
}

func readClip(file multipart.File, hdr *multipart.FileHeader) (transcribe.Audio, error) {
	data, err := io.ReadAll(io.LimitReader(file, maxAudioSize+1))
	if err != nil {
		return transcribe.Audio{}, &uploadError{Status: http.StatusBadRequest, Message: fmt.Sprintf("lecture du fichier : %v", err)}
	}
	if len(data) > maxAudioSize {
		return transcribe.Audio{}, &uploadError{Status: http.StatusRequestEntityTooLarge, Message: "le fichier audio dépasse 25 Mo"}
	}
	if len(data) == 0 {
		return transcribe.Audio{}, &uploadError{Status: http.StatusBadRequest, Message: "le fichier audio est vide"}
	}
	return transcribe.Audio{Name: hdr.Filename, Data: data}, nil
}
