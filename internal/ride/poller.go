package ride

import (
	"context"

	"github.com/example/ride-client/internal/models"
)

// Pipe is the slice of the request pipeline the poller needs.
type Pipe interface {
	DoJSON(ctx context.Context, method, path string, body, out any) error
}

// PipelinePoller reads ride details through the authenticated pipeline.
type PipelinePoller struct {
	Pipe Pipe
}

func (p *PipelinePoller) Details(ctx context.Context, rideID string) (models.RideDetails, error) {
	var out models.RideDetails
	if err := p.Pipe.DoJSON(ctx, "GET", "/bookings/details/"+rideID, nil, &out); err != nil {
		return models.RideDetails{}, err
	}
	return out, nil
}
