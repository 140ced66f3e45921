package script

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/rx-transmit/internal/domain/rx"
)

// timeNow is a variable so tests can pin the message clock.
var timeNow = time.Now

// Build renders the structured message for a transmission. Pure: no I/O and
// no side effects beyond ID generation, so all three channel strategies
// produce identical wire content from the same inputs.
//
// The prescriber DEA number is taken from the signature, not the provider
// record, so it appears only when a DEA-linked signature actually authorized
// the transmission.
func Build(t *rx.Transmission, med *rx.Medication, order *rx.Order, patient *rx.Patient,
	provider *rx.Provider, pharmacy *rx.Pharmacy, sig *rx.Signature) (*Message, error) {

	if t == nil || med == nil || order == nil || patient == nil || provider == nil || pharmacy == nil || sig == nil {
		return nil, fmt.Errorf("all message inputs are required")
	}

	msg := &Message{
		Header: Header{
			MessageType: MessageTypeNewRx,
			Version:     Version,
			MessageID:   uuid.New().String(),
			SentTime:    FormatDateTime(timeNow().UTC()),
		},
		Patient: PatientBlock{
			LastName:    patient.LastName,
			FirstName:   patient.FirstName,
			DateOfBirth: FormatDate(patient.DateOfBirth),
			MRN:         patient.MRN,
			Phone:       patient.Phone,
			Address:     patient.Address,
		},
		Prescriber: PrescriberBlock{
			LastName:  provider.LastName,
			FirstName: provider.FirstName,
			NPI:       provider.NPI,
			DEANumber: sig.DEANumber,
			Phone:     provider.Phone,
		},
		Pharmacy: PharmacyBlock{
			NCPDPID:   pharmacy.NCPDPID,
			StoreName: pharmacy.Name,
			Phone:     pharmacy.Phone,
			Fax:       pharmacy.FaxNumber,
			Address:   pharmacy.Address,
		},
		Medication: MedicationBlock{
			DrugDescription:     med.Name,
			NDC:                 med.NDC,
			Strength:            med.Strength,
			Form:                med.Form,
			Quantity:            order.Quantity,
			QuantityUnit:        order.QuantityUnit,
			DaysSupply:          order.DaysSupply,
			Sig:                 order.Sig,
			Refills:             order.RefillsRemaining,
			ScheduleClass:       med.ScheduleClass,
			SubstitutionAllowed: order.SubstitutionAllowed,
			WrittenDate:         FormatDate(order.WrittenDate),
		},
	}

	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("build message for transmission %s: %w", t.ID, err)
	}
	return msg, nil
}
