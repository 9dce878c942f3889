package service

import (
	"github.com/tickrace/tickrace-sub001/internal/models"
	"github.com/tickrace/tickrace-sub001/internal/repository"
)

// LinkKind classifies how a payment covers a registration.
type LinkKind int

const (
	// LinkIndividual payment settles exactly one registration.
	LinkIndividual LinkKind = iota
	// LinkTeam payment settles a group or several registrations at once.
	LinkTeam
)

// PaymentLink is the resolved payment behind a registration together with
// its coverage classification.
type PaymentLink struct {
	Kind    LinkKind
	Payment *models.Payment
	Group   *models.Group
}

// ResolvePaymentLink finds the settled payment that covers a registration.
// A payment counts as a team payment when it is attached to a group or
// lists more than one registration. Returns ErrPaymentNotFound when no
// payment covers the registration.
func ResolvePaymentLink(paymentRepo repository.PaymentRepository, groupRepo repository.GroupRepository, registration *models.Registration) (*PaymentLink, error) {
	if registration == nil {
		return nil, ErrRegistrationNotFound
	}

	payment, err := paymentRepo.GetByRegistrationID(registration.ID)
	if err != nil {
		return nil, err
	}
	if payment != nil {
		link := &PaymentLink{Kind: LinkIndividual, Payment: payment}
		if payment.GroupID != nil || len(payment.RegistrationIDs) > 1 {
			link.Kind = LinkTeam
		}
		if payment.GroupID != nil {
			group, err := groupRepo.GetByID(*payment.GroupID)
			if err != nil {
				return nil, err
			}
			link.Group = group
		}
		return link, nil
	}

	// No direct link. Fall back to the registration's group and its payment.
	if registration.GroupID == nil {
		return nil, ErrPaymentNotFound
	}
	group, err := groupRepo.GetByID(*registration.GroupID)
	if err != nil {
		return nil, err
	}
	if group == nil || group.PaymentID == nil {
		return nil, ErrPaymentNotFound
	}
	payment, err = paymentRepo.GetByID(*group.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return &PaymentLink{Kind: LinkTeam, Payment: payment, Group: group}, nil
}
