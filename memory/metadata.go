package memory

import "github.com/airheartdev/workshop"

func tableMetadata() []workshop.TableMetadata {
	now := "now()"
	uuidDefault := "gen_random_uuid()"
	falseDefault := "false"

	timestamps := []workshop.Column{
		{ColumnName: "created_at", DataType: "timestamp with time zone", ColumnDefault: &now},
		{ColumnName: "updated_at", DataType: "timestamp with time zone", ColumnDefault: &now},
	}
	serial := workshop.Column{ColumnName: "id", DataType: "integer", IsIdentity: true}

	return []workshop.TableMetadata{
		{TableName: workshop.TableCheckboxes, Columns: append([]workshop.Column{
			serial,
			{ColumnName: "checked", DataType: "boolean", ColumnDefault: &falseDefault},
			{ColumnName: "user_id", DataType: "uuid", IsNullable: true},
		}, timestamps...)},
		{TableName: workshop.TablePollVotes, Columns: append([]workshop.Column{
			serial,
			{ColumnName: "poll_id", DataType: "integer"},
			{ColumnName: "user_id", DataType: "uuid"},
			{ColumnName: "correlation_id", DataType: "text", IsNullable: true},
		}, timestamps...)},
		{TableName: workshop.TablePolls, Columns: append([]workshop.Column{
			serial,
			{ColumnName: "name", DataType: "text"},
			{ColumnName: "x", DataType: "double precision"},
			{ColumnName: "y", DataType: "double precision"},
		}, timestamps...)},
		{TableName: workshop.TableTodos, Columns: append([]workshop.Column{
			serial,
			{ColumnName: "text", DataType: "text"},
			{ColumnName: "completed", DataType: "boolean", ColumnDefault: &falseDefault},
			{ColumnName: "user_ids", DataType: "ARRAY"},
			{ColumnName: "correlation_id", DataType: "text", IsNullable: true},
		}, timestamps...)},
		{TableName: workshop.TableUsers, Columns: append([]workshop.Column{
			{ColumnName: "id", DataType: "uuid", ColumnDefault: &uuidDefault},
			{ColumnName: "name", DataType: "text"},
		}, timestamps...)},
	}
}
