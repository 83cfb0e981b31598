// Translates storage errors into API errors.

package handlers

import (
	"errors"

	"github.com/nb-music/server/internal/docstore"
	"github.com/nb-music/server/internal/server/dto"
	"github.com/nb-music/server/internal/storage/identity"
	"github.com/nb-music/server/internal/storage/library"
)

// apiError maps err to a dto.APIError. resource names the addressed item in
// not found messages. Unknown errors become a generic 500 that keeps err for
// logging only.
func apiError(err error, resource string) error {
	var ews dto.ErrorWithStatus
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ews):
		return err
	case errors.Is(err, library.ErrNotFound):
		return dto.NotFound(resource).Wrap(err)
	case errors.Is(err, library.ErrForbidden):
		return dto.Forbidden("Not the owner of this " + resource).Wrap(err)
	case errors.Is(err, library.ErrDuplicateBVID):
		return dto.Conflict("This video is already mapped").Wrap(err)
	case errors.Is(err, library.ErrInvalidAction):
		return dto.BadRequest("Invalid action").Wrap(err)
	case errors.Is(err, library.ErrTooManySongs):
		return dto.BadRequest("Too many songs in playlist").Wrap(err)
	case errors.Is(err, identity.ErrSessionQuotaExceeded):
		return dto.Forbidden("Too many active sessions, log out elsewhere first").Wrap(err)
	case errors.Is(err, identity.ErrSessionNotFound), errors.Is(err, identity.ErrSessionExpired):
		return dto.Unauthorized("Session is invalid or expired").Wrap(err)
	case errors.Is(err, docstore.ErrBusy):
		return dto.Unavailable("Server busy, retry later").Wrap(err)
	}
	return dto.InternalWithError(err)
}
