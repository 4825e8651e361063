package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrDelegation = errors.New("clubos delegation failed")

const (
	report_delegate        = "delegate"
	report_delegate_forced = "delegate-cookie-forced"
)

// DelegateTo makes every following request of the client act as memberId. The
// delegation is sticky, it lasts until the next DelegateTo or login.
func (c *Client) DelegateTo(ctx context.Context, memberId string) error {
	ctx, span := tracer.Start(ctx, "client:DelegateTo")
	defer span.End()
	span.SetAttributes(attribute.String("member_id", memberId))

	if memberId == "" {
		return fmt.Errorf("%w: empty member id", ErrDelegation)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeouts.Light)
	defer cancel()

	generation := c.Session.Generation()
	res, err := c.Request(ctx).
		Get(fmt.Sprintf("/action/Delegate/%s/url=false", url.PathEscape(memberId)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make delegate request")
		err = fmt.Errorf("%w: %w", ErrDelegation, err)
		c.tel.ReportWarning(report_delegate, memberId, err)
		return err
	}
	if redirectedToLogin(res) {
		span.SetStatus(codes.Error, "session expired")
		c.Session.InvalidateGeneration(generation)
		err = fmt.Errorf("%w: %w", ErrDelegation, ErrSessionExpired)
		c.tel.ReportWarning(report_delegate, memberId, err)
		return err
	}
	if !isSuccess(res) {
		span.SetStatus(codes.Error, "delegate request rejected")
		err = fmt.Errorf("%w: delegate returned %d", ErrDelegation, res.StatusCode())
		c.tel.ReportWarning(report_delegate, memberId, err)
		return err
	}

	if c.cookie(cookieDelegated) != memberId {
		c.tel.ReportWarning(report_delegate_forced, memberId)
		c.setCookies(map[string]string{
			cookieDelegated:     memberId,
			cookieStaffDelegate: "",
		})
	}
	c.refreshAccessToken()
	c.Session.setDelegation(DelegationState{ActiveMemberId: memberId})
	return nil
}

// ActiveDelegation returns the member the client currently acts as, "" if none.
func (c *Client) ActiveDelegation() string {
	return c.Session.Delegation().ActiveMemberId
}
