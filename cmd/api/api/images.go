package api

import (
	"context"
	"errors"

	"github.com/onkernel/layerbuild/lib/images"
	"github.com/onkernel/layerbuild/lib/oapi"
)

// InspectImage pins an image to its digest and reports the accounts, OS
// and Python facts a build is checked against
func (s *ApiService) InspectImage(ctx context.Context, request oapi.InspectImageRequestObject) (oapi.InspectImageResponseObject, error) {
	ref, err := images.ParseNormalizedRef(request.Body.Image)
	if err != nil {
		return oapi.InspectImage400JSONResponse(errorBody("invalid_request", err)), nil
	}

	info, err := s.Inspector.Inspect(ctx, ref)
	if err != nil {
		switch {
		case errors.Is(err, images.ErrNotFound):
			return oapi.InspectImage404JSONResponse(errorBody("image_not_found", err)), nil
		case errors.Is(err, images.ErrUnauthorized):
			return oapi.InspectImage502JSONResponse(errorBody("registry_unauthorized", err)), nil
		default:
			return nil, err
		}
	}
	return oapi.InspectImage200JSONResponse{
		BaseImageInfo:  info,
		PackageManager: info.PackageManager(),
	}, nil
}
