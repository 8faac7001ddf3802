// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// patients_cmd.go - Patient roster commands for healio.
//
// Command: patients [subcommand]
// Short:   Browse and register patients
// Aliases: patient, p
//
// Subcommands:
//   list (default)      List patients (paginated)
//   show <id>           Show one patient
//   show --mrn MRN-…    Look up a patient by medical record number
//   create              Register a patient (--name, --dob required)
//
// Examples:
//   healio patients                          List patients
//   healio patients list --limit 20          First twenty patients
//   healio patients list --offset 20         Next page
//   healio patients show 7d3f…               Show by id
//   healio patients show --mrn MRN-4BC0A911  Show by record number
//   healio patients create --name "Robert Hayes" --dob 1961-04-02
//   healio patients list --json              JSON output

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/moneyrudh/healio/internal/api"
	"github.com/moneyrudh/healio/internal/model"
	"github.com/moneyrudh/healio/internal/util"
)

// HandlePatients handles the "patients" command.
func HandlePatients(args Args) error {
	cfg := loadConfig()
	client := newClient(cfg, args)
	ctx := context.Background()

	switch args.Subcommand {
	case "", "list", "ls":
		return handlePatientsList(ctx, client, args)
	case "show", "get":
		return handlePatientsShow(ctx, client, args)
	case "create", "new", "add":
		return handlePatientsCreate(ctx, client, args)
	default:
		return ErrUnknownSubcommand("patients", args.Subcommand,
			[]string{"list", "show", "create"})
	}
}

// =============================================================================
// PATIENTS LIST
// =============================================================================

// PatientListData is the JSON output shape for patients list.
type PatientListData struct {
	Patients []model.Patient `json:"patients"`
	Count    int             `json:"count"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

func handlePatientsList(ctx context.Context, client *api.Client, args Args) error {
	limit := args.Limit
	if limit <= 0 {
		limit = api.DefaultPatientPageSize
	}

	patients, err := client.ListPatients(ctx, limit, args.Offset)
	if err != nil {
		return WrapError(err, "failed to list patients")
	}

	if args.JSON {
		resp := NewJSONResponse("patients list", PatientListData{
			Patients: patients,
			Count:    len(patients),
			Limit:    limit,
			Offset:   args.Offset,
		})
		return resp.Print()
	}

	if len(patients) == 0 {
		fmt.Println()
		fmt.Println("No patients found.")
		fmt.Println()
		fmt.Println("Register one with: healio patients create --name NAME --dob YYYY-MM-DD")
		fmt.Println()
		return nil
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Patients"))
	fmt.Println(RenderSeparator())
	fmt.Println()

	fmt.Printf("%-4s %-24s %-12s %-14s\n", "#", "Name", "DOB", "Record No.")
	fmt.Println(SeparatorStyle.Render(strings.Repeat("-", 60)))

	for i, p := range patients {
		fmt.Printf("%-4d %-24s %-12s %-14s\n",
			args.Offset+i+1,
			util.TruncateRunes(p.Name, 22),
			p.DOB,
			p.MRN,
		)
	}

	fmt.Println()
	fmt.Printf("Showing %d patient(s) from offset %d\n", len(patients), args.Offset)
	if len(patients) == limit {
		fmt.Printf("Next page: healio patients list --limit %d --offset %d\n", limit, args.Offset+limit)
	}
	fmt.Println()

	return nil
}

// =============================================================================
// PATIENTS SHOW
// =============================================================================

func handlePatientsShow(ctx context.Context, client *api.Client, args Args) error {
	var (
		patient *model.Patient
		err     error
	)

	switch {
	case args.MRN != "":
		patient, err = client.GetPatientByMRN(ctx, args.MRN)
	case args.ID != "":
		// A record number passed positionally still works.
		if strings.HasPrefix(strings.ToUpper(args.ID), "MRN-") {
			patient, err = client.GetPatientByMRN(ctx, strings.ToUpper(args.ID))
		} else {
			patient, err = client.GetPatient(ctx, args.ID)
		}
	default:
		return ErrMissingArgument("patients show", "patient id or --mrn",
			"healio patients show <id> | healio patients show --mrn MRN-XXXXXXXX")
	}
	if err != nil {
		return WrapError(err, "failed to fetch patient")
	}

	if args.JSON {
		return NewJSONResponse("patients show", patient).Print()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Patient"))
	fmt.Println(RenderSeparator())
	fmt.Println()
	printField("ID:", patient.ID)
	printField("Name:", patient.Name)
	printField("DOB:", patient.DOB)
	printField("Record No.:", patient.MRN)
	if !patient.CreatedAt.IsZero() {
		printField("Registered:", patient.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println()
	fmt.Printf("Start a consultation: healio consult --patient %s\n", patient.ID)
	fmt.Println()

	return nil
}

// =============================================================================
// PATIENTS CREATE
// =============================================================================

func handlePatientsCreate(ctx context.Context, client *api.Client, args Args) error {
	if args.Name == "" {
		return ErrMissingArgument("patients create", "--name",
			"healio patients create --name NAME --dob YYYY-MM-DD")
	}
	if args.DOB == "" {
		return ErrMissingArgument("patients create", "--dob",
			"healio patients create --name NAME --dob YYYY-MM-DD")
	}

	req := api.CreatePatientRequest{
		Name: args.Name,
		DOB:  args.DOB,
	}
	if args.Info != "" {
		req.OtherInfo = map[string]any{"notes": args.Info}
	}

	patient, err := client.CreatePatient(ctx, req)
	if err != nil {
		return WrapError(err, "failed to create patient")
	}

	if args.JSON {
		return NewJSONResponse("patients create", patient).Print()
	}

	fmt.Printf("%s Patient registered\n", SuccessStyle.Render("[OK]"))
	printField("ID:", patient.ID)
	printField("Name:", patient.Name)
	printField("Record No.:", patient.MRN)

	return nil
}

// printField prints a labeled value with the shared label width.
func printField(label, value string) {
	fmt.Printf("  %s%s\n", LabelStyle.Render(label), ValueStyle.Render(value))
}
