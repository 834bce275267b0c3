package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

func TestProductRepository_PostgresCatalog(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	products := store.Products()
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	cat, err := products.CreateProduct(ctx, domain.Product{
		ID: "cat", SellerID: "seller-1", Name: "Siamese cat", Amount: "$300", Category: "Cats", CreatedAt: now,
	})
	require.NoError(t, err)
	require.False(t, cat.IsSold)

	dog, err := products.CreateProduct(ctx, domain.Product{
		ID: "dog", SellerID: "seller-2", Name: "Corgi", Description: "friendly 100% corgi", Amount: "900", CreatedAt: now.Add(time.Second),
	})
	require.NoError(t, err)
	require.Equal(t, domain.DefaultCategory, dog.Category)

	_, err = products.GetProduct(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	found, err := products.GetProducts(ctx, []string{"dog", "missing", "cat", "dog"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, "dog", found[0].ID)
	require.Equal(t, "cat", found[1].ID)

	all, err := products.ListProducts(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "dog", all[0].ID)

	byCategory, err := products.ListProducts(ctx, domain.ProductFilter{Category: "cats"})
	require.NoError(t, err)
	require.Len(t, byCategory, 1)

	byQuery, err := products.ListProducts(ctx, domain.ProductFilter{Query: "100%"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	require.Equal(t, "dog", byQuery[0].ID)

	bySeller, err := products.ListProducts(ctx, domain.ProductFilter{SellerID: "seller-1", Limit: 5})
	require.NoError(t, err)
	require.Len(t, bySeller, 1)
	require.Equal(t, "cat", bySeller[0].ID)
}

func TestStore_PostgresReserveAndRelease(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Microsecond)

	_, err := store.Products().CreateProduct(ctx, domain.Product{ID: "pet-1", SellerID: "s", Name: "Rex", Amount: "10"})
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.Products().ReserveIfAvailable(ctx, "pet-1", "buyer-1", now)
		if err != nil {
			return err
		}
		require.True(t, p.HeldBy("buyer-1"))
		_, err = tx.Products().ReserveIfAvailable(ctx, "pet-1", "buyer-2", now)
		return err
	})
	require.ErrorIs(t, err, domain.ErrProductUnavailable)

	p, err := store.Products().GetProduct(ctx, "pet-1")
	require.NoError(t, err)
	require.False(t, p.IsSold, "failed tx must roll back the reservation")

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Products().ReserveIfAvailable(ctx, "pet-1", "buyer-1", now)
		return err
	}))

	var released bool
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		_, released, err = tx.Products().Release(ctx, "pet-1", "buyer-2", now)
		return err
	}))
	require.False(t, released)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		_, released, err = tx.Products().Release(ctx, "pet-1", "buyer-1", now)
		return err
	}))
	require.True(t, released)

	p, err = store.Products().GetProduct(ctx, "pet-1")
	require.NoError(t, err)
	require.True(t, p.Available())
	require.True(t, p.ReservationConsistent())
}

func TestStore_PostgresConcurrentReserveExactlyOneWins(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()

	_, err := store.Products().CreateProduct(ctx, domain.Product{ID: "pet-race", SellerID: "s", Name: "Rex", Amount: "10"})
	require.NoError(t, err)

	const buyers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
				_, err := tx.Products().ReserveIfAvailable(ctx, "pet-race", "buyer", time.Now().UTC())
				return err
			})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrProductUnavailable) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, winners)
}
