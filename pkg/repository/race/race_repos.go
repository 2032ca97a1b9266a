//nolint:whitespace // can't make both editor and linter happy
package race

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
	"github.com/mpapenbr/nexttogo-service-go/pkg/repository"
)

const selector = `select id, meeting_name, race_number, category_id, start_time from race`

// Upsert inserts the records, existing rows with the same id are replaced.
// If records contains the same id more than once the last one wins.
func Upsert(ctx context.Context, conn repository.Querier, records []model.Record) error {
	records = lastByID(records)
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	meetings := make([]string, len(records))
	numbers := make([]int32, len(records))
	categories := make([]string, len(records))
	starts := make([]int64, len(records))
	for i := range records {
		ids[i] = records[i].ID
		meetings[i] = records[i].MeetingName
		numbers[i] = int32(records[i].RaceNumber) //nolint:gosec // race numbers are small
		categories[i] = records[i].CategoryID
		starts[i] = records[i].StartTime
	}
	_, err := conn.Exec(ctx, `
	insert into race (id, meeting_name, race_number, category_id, start_time)
	select * from unnest($1::text[], $2::text[], $3::int[], $4::text[], $5::bigint[])
	on conflict (id) do update set
		meeting_name=excluded.meeting_name,
		race_number=excluded.race_number,
		category_id=excluded.category_id,
		start_time=excluded.start_time
	`, ids, meetings, numbers, categories, starts)
	return err
}

// deletes all races starting before the given epoch seconds, returns number of rows deleted.
func DeleteBefore(ctx context.Context, conn repository.Querier, before int64) (int, error) {
	cmdTag, err := conn.Exec(ctx, "delete from race where start_time < $1", before)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

// deletes all races, returns number of rows deleted.
func DeleteAll(ctx context.Context, conn repository.Querier) (int, error) {
	cmdTag, err := conn.Exec(ctx, "delete from race")
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

// LoadWindow returns up to limit races starting at or after minStartTime ordered by
// start time, meeting name (byte order) and id. An empty categoryIDs selects all
// categories.
func LoadWindow(
	ctx context.Context,
	conn repository.Querier,
	categoryIDs []string,
	minStartTime int64,
	limit int,
) ([]model.Record, error) {
	var rows pgx.Rows
	var err error
	if len(categoryIDs) == 0 {
		rows, err = conn.Query(ctx, selector+`
		where start_time >= $1
		order by start_time, meeting_name collate "C", id
		limit $2`, minStartTime, limit)
	} else {
		rows, err = conn.Query(ctx, selector+`
		where category_id = any($3) and start_time >= $1
		order by start_time, meeting_name collate "C", id
		limit $2`, minStartTime, limit, categoryIDs)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ret := make([]model.Record, 0, limit)
	for rows.Next() {
		var item model.Record
		if err := scan(&item, rows); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	return ret, rows.Err()
}

func scan(item *model.Record, row pgx.Row) error {
	return row.Scan(
		&item.ID,
		&item.MeetingName,
		&item.RaceNumber,
		&item.CategoryID,
		&item.StartTime,
	)
}

func lastByID(records []model.Record) []model.Record {
	pos := make(map[string]int, len(records))
	ret := make([]model.Record, 0, len(records))
	for _, r := range records {
		if i, ok := pos[r.ID]; ok {
			ret[i] = r
			continue
		}
		pos[r.ID] = len(ret)
		ret = append(ret, r)
	}
	return ret
}
