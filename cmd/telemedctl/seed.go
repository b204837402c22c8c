package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"telemed-platform/internal/appointments"
	"telemed-platform/internal/rbac"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/spf13/cobra"
)

var complaints = []string{
	"Persistent cough for two weeks",
	"Follow-up on blood pressure medication",
	"Skin rash after new detergent",
	"Recurring migraines",
	"Review of lab results",
	"Knee pain after running",
	"Trouble sleeping",
	"Prescription renewal",
}

// booking is one fake appointment request plus the patient that makes it.
type booking struct {
	PatientID       string            `json:"-"`
	DoctorID        string            `json:"doctor_id"`
	ScheduledAt     time.Time         `json:"scheduled_at"`
	DurationMinutes int               `json:"duration_minutes"`
	Type            appointments.Type `json:"type"`
	Notes           string            `json:"notes,omitempty"`
}

// fakeBookings builds n requests spread across working hours of the next week.
// Some of them overlap on purpose so the scheduler's conflict path is exercised.
func fakeBookings(f *gofakeit.Faker, n, doctors, patients int, from time.Time) []booking {
	doctorIDs := make([]string, max(doctors, 1))
	for i := range doctorIDs {
		doctorIDs[i] = f.UUID()
	}
	patientIDs := make([]string, max(patients, 1))
	for i := range patientIDs {
		patientIDs[i] = f.UUID()
	}
	types := []appointments.Type{appointments.TypeVideoCall, appointments.TypeConsultation, appointments.TypeFollowUp}
	day := from.UTC().Truncate(24 * time.Hour)

	out := make([]booking, 0, n)
	for i := 0; i < n; i++ {
		at := day.AddDate(0, 0, f.Number(1, 7)).
			Add(time.Duration(f.Number(9, 16)) * time.Hour).
			Add(time.Duration(15*f.Number(0, 3)) * time.Minute)
		out = append(out, booking{
			PatientID:       patientIDs[f.Number(0, len(patientIDs)-1)],
			DoctorID:        doctorIDs[f.Number(0, len(doctorIDs)-1)],
			ScheduledAt:     at,
			DurationMinutes: appointments.AllowedDurations[f.Number(0, len(appointments.AllowedDurations)-1)],
			Type:            types[f.Number(0, len(types)-1)],
			Notes:           f.RandomString(complaints),
		})
	}
	return out
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Book fake appointments through the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("api")
			count, _ := cmd.Flags().GetInt("count")
			doctors, _ := cmd.Flags().GetInt("doctors")
			patients, _ := cmd.Flags().GetInt("patients")
			seed, _ := cmd.Flags().GetUint64("seed")
			log := cliLogger(cmd)

			m, err := tokenManager()
			if err != nil {
				return err
			}
			api := newAPIClient(baseURL)
			tokens := map[string]string{}

			var booked, conflicts int
			for _, b := range fakeBookings(gofakeit.New(seed), count, doctors, patients, time.Now()) {
				tok, ok := tokens[b.PatientID]
				if !ok {
					pair, err := mintToken(m, b.PatientID, rbac.RolePatient)
					if err != nil {
						return err
					}
					tok = pair.AccessToken
					tokens[b.PatientID] = tok
				}

				var a appointments.Appointment
				err := api.do(cmd.Context(), http.MethodPost, "/v1/appointments", tok, b, &a)
				var apiErr *apiError
				switch {
				case err == nil:
					booked++
					log.Debug("booked", "appointment_id", a.ID, "doctor_id", a.DoctorID, "scheduled_at", a.ScheduledAt)
				case errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict:
					conflicts++
				default:
					return fmt.Errorf("book for patient %s: %w", b.PatientID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "booked %d appointment(s), %d slot conflict(s)\n", booked, conflicts)
			return nil
		},
	}
	cmd.Flags().Int("count", 50, "appointments to request")
	cmd.Flags().Int("doctors", 5, "distinct doctors")
	cmd.Flags().Int("patients", 20, "distinct patients")
	cmd.Flags().Uint64("seed", 0, "faker seed; 0 picks a random one")
	return cmd
}
