package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/tariffdeck/tariffdeck/pkg/log"
	"github.com/tariffdeck/tariffdeck/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements Database on Google Cloud Firestore. Documents
// carry their payload as a JSON string for portability, with a few indexed
// fields alongside.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider. It registers flags for
// configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how the firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID may be empty; the client can infer it.
	return nil
}

// Init initializes the Firestore client. It must be called before using the
// provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) accountCollection(accountID, name string) (*firestore.CollectionRef, error) {
	if accountID == "" {
		return nil, fmt.Errorf("accountID cannot be empty")
	}
	return f.client.Collection("accounts").Doc(accountID).Collection(name), nil
}

// GetTariff retrieves one tariff model from the "tariffs" collection.
func (f *FirestoreProvider) GetTariff(ctx context.Context, tariffID string) (types.TariffModel, error) {
	if tariffID == "" {
		return types.TariffModel{}, fmt.Errorf("tariffID cannot be empty")
	}
	doc, err := f.client.Collection("tariffs").Doc(tariffID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.TariffModel{}, ErrTariffNotFound
		}
		return types.TariffModel{}, fmt.Errorf("failed to fetch tariff doc: %w", err)
	}
	return unmarshalTariffDoc(ctx, doc)
}

// ListTariffs retrieves every tariff in the catalog.
func (f *FirestoreProvider) ListTariffs(ctx context.Context) ([]types.TariffModel, error) {
	iter := f.client.Collection("tariffs").
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var tariffs []types.TariffModel
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating tariffs: %w", err)
		}
		t, err := unmarshalTariffDoc(ctx, doc)
		if err != nil {
			return nil, err
		}
		tariffs = append(tariffs, t)
	}
	return tariffs, nil
}

// UpsertTariff adds or replaces a tariff model, keyed by its tariffId.
func (f *FirestoreProvider) UpsertTariff(ctx context.Context, tariff types.TariffModel) error {
	if tariff.TariffID == "" {
		return fmt.Errorf("tariff has no tariffId")
	}
	jsonBytes, err := json.Marshal(tariff)
	if err != nil {
		return fmt.Errorf("failed to marshal tariff: %w", err)
	}
	_, err = f.client.Collection("tariffs").Doc(tariff.TariffID).Set(ctx, map[string]interface{}{
		"json":     string(jsonBytes),
		"rateCode": tariff.RateCode,
		"utility":  tariff.Utility,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert tariff: %w", err)
	}
	return nil
}

func unmarshalTariffDoc(ctx context.Context, doc *firestore.DocumentSnapshot) (types.TariffModel, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "tariff doc missing json", slog.String("tariffID", doc.Ref.ID), slog.Any("err", err))
		return types.TariffModel{}, fmt.Errorf("tariff document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "tariff doc json not string", slog.String("tariffID", doc.Ref.ID))
		return types.TariffModel{}, fmt.Errorf("tariff document %s 'json' field is not a string", doc.Ref.ID)
	}
	var t types.TariffModel
	if err := json.Unmarshal([]byte(jsonStr), &t); err != nil {
		return types.TariffModel{}, fmt.Errorf("failed to unmarshal tariff (id=%s): %w", doc.Ref.ID, err)
	}
	return t, nil
}

// GetBillingPeriods retrieves an account's billing periods from its
// "billing/periods" document.
func (f *FirestoreProvider) GetBillingPeriods(ctx context.Context, accountID string) ([]types.BillingPeriod, error) {
	coll, err := f.accountCollection(accountID, "billing")
	if err != nil {
		return nil, err
	}
	doc, err := coll.Doc("periods").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to fetch billing periods doc: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		return nil, fmt.Errorf("billing periods document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return nil, fmt.Errorf("billing periods 'json' field is not a string")
	}
	var periods []types.BillingPeriod
	if err := json.Unmarshal([]byte(jsonStr), &periods); err != nil {
		return nil, fmt.Errorf("failed to unmarshal billing periods: %w", err)
	}
	return periods, nil
}

// SetBillingPeriods replaces an account's billing periods.
func (f *FirestoreProvider) SetBillingPeriods(ctx context.Context, accountID string, periods []types.BillingPeriod) error {
	jsonBytes, err := json.Marshal(periods)
	if err != nil {
		return fmt.Errorf("failed to marshal billing periods: %w", err)
	}
	coll, err := f.accountCollection(accountID, "billing")
	if err != nil {
		return err
	}
	_, err = coll.Doc("periods").Set(ctx, map[string]interface{}{
		"json":  string(jsonBytes),
		"count": len(periods),
	})
	if err != nil {
		return fmt.Errorf("failed to save billing periods: %w", err)
	}
	return nil
}

// UpsertIntervalReadings adds or updates interval readings. The document ID
// is the RFC3339 timestamp for lexicographic ordering and efficient range
// queries.
func (f *FirestoreProvider) UpsertIntervalReadings(ctx context.Context, accountID string, rows []types.IntervalRow) error {
	coll, err := f.accountCollection(accountID, "interval_readings")
	if err != nil {
		return err
	}
	bw := f.client.BulkWriter(ctx)
	for _, row := range rows {
		docID := row.Timestamp.UTC().Format(time.RFC3339)
		_, err := bw.Set(coll.Doc(docID), map[string]interface{}{
			"timestamp": row.Timestamp,
			"kw":        row.KW,
		})
		if err != nil {
			return fmt.Errorf("failed to queue interval reading %s: %w", docID, err)
		}
	}
	bw.End()
	return nil
}

// GetIntervalReadings retrieves interval readings within the time range.
func (f *FirestoreProvider) GetIntervalReadings(ctx context.Context, accountID string, start, end time.Time) ([]types.IntervalRow, error) {
	coll, err := f.accountCollection(accountID, "interval_readings")
	if err != nil {
		return nil, err
	}
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var rows []types.IntervalRow
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating interval readings: %w", err)
		}
		var row types.IntervalRow
		if err := doc.DataTo(&row); err != nil {
			return nil, fmt.Errorf("failed to decode interval reading (id=%s): %w", doc.Ref.ID, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// InsertRun stores a billing run summary keyed by its RFC3339Nano timestamp.
func (f *FirestoreProvider) InsertRun(ctx context.Context, run types.SavedRun) error {
	jsonBytes, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	coll, err := f.accountCollection(run.AccountID, "run_history")
	if err != nil {
		return err
	}
	docID := run.Timestamp.UTC().Format(time.RFC3339Nano)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": run.Timestamp,
		"tariffId":  run.TariffID,
	})
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// GetRunHistory retrieves stored run summaries within the time range.
func (f *FirestoreProvider) GetRunHistory(ctx context.Context, accountID string, start, end time.Time) ([]types.SavedRun, error) {
	coll, err := f.accountCollection(accountID, "run_history")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where("timestamp", ">=", start).
		Where("timestamp", "<", end).
		OrderBy("timestamp", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var runs []types.SavedRun
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating runs: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "run doc missing json", slog.String("docID", doc.Ref.ID), slog.String("accountID", accountID), slog.Any("err", err))
			return nil, fmt.Errorf("run document %s missing 'json' field: %w", doc.Ref.ID, err)
		}
		jsonStr, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("run document %s 'json' field is not a string", doc.Ref.ID)
		}
		var run types.SavedRun
		if err := json.Unmarshal([]byte(jsonStr), &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run (id=%s): %w", doc.Ref.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
